package predict

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bbernhard/repairiq/src/datastructures"
	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"
)

const (
	MetadataFilename = "metadata.json"
	UnknownLabel     = "Unknown"
)

// HardwareClasses is used whenever the model directory doesn't ship a
// metadata.json. The order has to match the output neurons of the model.
var HardwareClasses = []string{
	// pc / phone components
	"ram_module",
	"ram_stick",
	"hard_drive",
	"ssd",
	"capacitor",
	"motherboard",
	"charging_port",
	"processor",
	"sim_slot",
	"battery",
	"display_connector",

	// ports
	"usb_port",
	"hdmi_port",
	"ethernet_port",
	"vga_port",
	"dvi_port",

	// internal components
	"power_supply_unit",
	"graphics_card",
	"cooling_fan",
	"heat_sink",

	// cables
	"sata_cable",
	"power_cable",
	"vga_cable",
	"dvi_cable",

	// peripherals
	"keyboard",
	"mouse",
	"monitor",
	"speakers",
}

// Vocabulary is the ordered list of labels, index aligned with the model output.
type Vocabulary struct {
	labels   []string
	fallback bool
}

func NewVocabulary(labels []string) Vocabulary {
	l := make([]string, len(labels))
	copy(l, labels)
	return Vocabulary{labels: l}
}

func FallbackVocabulary() Vocabulary {
	v := NewVocabulary(HardwareClasses)
	v.fallback = true
	return v
}

// Label maps an output index to its label. Indices outside of the
// vocabulary map to UnknownLabel.
func (v Vocabulary) Label(idx int) string {
	if idx < 0 || idx >= len(v.labels) {
		return UnknownLabel
	}
	return v.labels[idx]
}

func (v Vocabulary) Len() int {
	return len(v.labels)
}

func (v Vocabulary) IsFallback() bool {
	return v.fallback
}

func (v Vocabulary) Contains(label string) bool {
	for _, l := range v.labels {
		if l == label {
			return true
		}
	}
	return false
}

// LoadMetadata reads metadata.json from the model directory. A missing file
// is not an error, the returned bool reports whether metadata was found.
func LoadMetadata(modelDir string) (datastructures.ModelMetadata, bool, error) {
	var metadata datastructures.ModelMetadata

	data, err := os.ReadFile(filepath.Join(modelDir, MetadataFilename))
	if errors.Is(err, os.ErrNotExist) {
		return metadata, false, nil
	}
	if err != nil {
		return metadata, false, fmt.Errorf("couldn't read model metadata: %w", err)
	}

	if err := json.Unmarshal(data, &metadata); err != nil {
		return metadata, false, fmt.Errorf("couldn't parse model metadata: %w", err)
	}
	if err := validator.New().Struct(metadata); err != nil {
		return metadata, false, fmt.Errorf("invalid model metadata: %w", err)
	}

	log.WithFields(log.Fields{
		"format":    metadata.Format,
		"classes":   len(metadata.Classes),
		"imageSize": metadata.ImageSize,
	}).Debug("[Predict] Model metadata loaded")

	return metadata, true, nil
}

// VocabularyFromMetadata picks the metadata classes when present, the
// hardcoded list otherwise. Both lists are never mixed.
func VocabularyFromMetadata(metadata datastructures.ModelMetadata, found bool) Vocabulary {
	if found && len(metadata.Classes) > 0 {
		return NewVocabulary(metadata.Classes)
	}
	return FallbackVocabulary()
}
