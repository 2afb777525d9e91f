package etl

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/lgd-analytics/maude-signals/config"
	"github.com/lgd-analytics/maude-signals/eventstore"
)

// MockDataGenerator generates realistic mock MAUDE data for demos and
// tests, kept in the teacher's MockDataGenerator shape: a per-day trend
// function (sine wave + noise) drives volume, and a handful of entities
// get a deliberate final-week spike so the statistical methods have
// something to detect (scenario S2 in the signal catalogue).
type MockDataGenerator struct {
	config *config.MockDataConfig
	rand   *rand.Rand
}

// NewMockDataGenerator creates a new mock data generator.
func NewMockDataGenerator(cfg *config.MockDataConfig) *MockDataGenerator {
	return &MockDataGenerator{
		config: cfg,
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

var eventTypes = []eventstore.EventType{
	eventstore.EventTypeDeath,
	eventstore.EventTypeInjury,
	eventstore.EventTypeMalfunction,
	eventstore.EventTypeOther,
}

// Generate produces a full mock dataset: one Event per adverse-event
// report plus zero-or-one Device row, spread day by day across the
// configured time range. Volume follows the teacher's sine-wave trend
// function (period ~60 days); entities named in SpikeManufacturers get
// an amplified final week to simulate an emerging signal.
func (m *MockDataGenerator) Generate() ([]eventstore.Event, []eventstore.Device) {
	var events []eventstore.Event
	var devices []eventstore.Device

	startDate := time.Now().AddDate(0, 0, -m.config.TimeRangeDays)
	spikeStart := m.config.TimeRangeDays - 7

	reportSeq := 0
	for day := 0; day < m.config.TimeRangeDays; day++ {
		// Trend function: base + sine(day) + noise, same shape as the
		// teacher's GenerateInspectionData.
		trend := float64(day) * 0.1
		dailyBase := float64(m.config.EventsPerDay) + (float64(m.config.EventsPerDay) * 0.4 * math.Sin(trend))
		noise := (m.rand.Float64() * float64(m.config.EventsPerDay) * 0.3) - (float64(m.config.EventsPerDay) * 0.15)
		dailyCount := int(dailyBase + noise)
		if dailyCount < 1 {
			dailyCount = 1
		}

		currentDate := startDate.AddDate(0, 0, day)
		inSpikeWindow := day >= spikeStart

		for i := 0; i < dailyCount; i++ {
			manufacturer := m.config.Manufacturers[m.rand.Intn(len(m.config.Manufacturers))]

			// During the spike window, bias extra reports onto the
			// designated spike manufacturers.
			if inSpikeWindow && len(m.config.SpikeManufacturers) > 0 && m.rand.Float64() < 0.5 {
				manufacturer = m.config.SpikeManufacturers[m.rand.Intn(len(m.config.SpikeManufacturers))]
			}

			reportSeq++
			mdrKey := fmt.Sprintf("MDR%010d", reportSeq)

			receivedTime := currentDate.Add(time.Hour * time.Duration(m.rand.Intn(24))).
				Add(time.Minute * time.Duration(m.rand.Intn(60)))

			var dateOfEvent *time.Time
			if m.rand.Float64() < 0.8 {
				eventTime := receivedTime.AddDate(0, 0, -m.rand.Intn(14))
				dateOfEvent = &eventTime
			}

			productCode := m.config.ProductCodes[m.rand.Intn(len(m.config.ProductCodes))]

			events = append(events, eventstore.Event{
				MDRReportKey:      mdrKey,
				DateReceived:      receivedTime,
				DateOfEvent:       dateOfEvent,
				EventType:         eventTypes[m.rand.Intn(len(eventTypes))],
				ManufacturerClean: manufacturer,
				ProductCode:       productCode,
			})

			if m.rand.Float64() < 0.9 {
				devices = append(devices, eventstore.Device{
					MDRReportKey:            mdrKey,
					BrandName:               m.config.BrandNames[m.rand.Intn(len(m.config.BrandNames))],
					GenericName:             m.config.GenericNames[m.rand.Intn(len(m.config.GenericNames))],
					ModelNumber:             m.config.ModelNumbers[m.rand.Intn(len(m.config.ModelNumbers))],
					ManufacturerDClean:      manufacturer,
					DeviceReportProductCode: productCode,
					ImplantFlag:             m.rand.Float64() < 0.3,
				})
			}
		}

		if day%100 == 0 {
			fmt.Printf("Generated mock data day %d/%d\n", day, m.config.TimeRangeDays)
		}
	}

	return events, devices
}

// defaultMockConfig is the fallback used when no mock_data section is
// present in config.yaml, mirroring the teacher's inline default
// MockDataConfig in RunMockGeneration.
func defaultMockConfig() config.MockDataConfig {
	return config.MockDataConfig{
		Enabled:            true,
		TimeRangeDays:      400,
		EventsPerDay:       40,
		Manufacturers:      []string{"Abbott", "Medtronic", "Becton Dickinson", "Baxter", "Stryker"},
		ProductCodes:       []string{"LZG", "DXY", "FOZ", "MAF"},
		BrandNames:         []string{"FreeStyle", "MiniMed", "Alaris", "Triathlon"},
		GenericNames:       []string{"infusion pump", "insulin pump", "glucose monitor", "hip implant"},
		ModelNumbers:       []string{"MOD-100", "MOD-200", "MOD-300", "MOD-400"},
		SpikeManufacturers: []string{"Abbott"},
	}
}
