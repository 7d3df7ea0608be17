package scan

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/bbernhard/repairiq/src/datastructures"
	log "github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var componentDescriptions = map[string]string{
	"ram_module":        "Random Access Memory module for temporary data storage",
	"ram_stick":         "Individual Random Access Memory stick",
	"hard_drive":        "Traditional magnetic storage device",
	"ssd":               "Fast flash-based storage with no moving parts",
	"capacitor":         "Electronic component that stores and releases electrical energy",
	"motherboard":       "Main circuit board connecting all computer components",
	"charging_port":     "Port for charging devices and data transfer",
	"processor":         "Central processing unit, the brain of the computer",
	"sim_slot":          "Slot for SIM cards in mobile devices",
	"battery":           "Portable power source for devices",
	"display_connector": "Interface for connecting displays (HDMI, DisplayPort, VGA)",
	"usb_port":          "Universal Serial Bus port for connecting peripherals",
	"hdmi_port":         "High-Definition Multimedia Interface for audio/video",
	"ethernet_port":     "Network port for wired internet connection",
	"vga_port":          "Video Graphics Array, an older display connection",
	"dvi_port":          "Digital Visual Interface for displays",
	"power_supply_unit": "Converts AC power to DC for computer components",
	"graphics_card":     "Processes video and graphics for display",
	"cooling_fan":       "Moves air to cool computer components",
	"heat_sink":         "Metal component that dissipates heat from chips",
	"sata_cable":        "Serial ATA cable for storage devices",
	"power_cable":       "Electrical cable for powering devices",
	"vga_cable":         "Analog video cable for older displays",
	"dvi_cable":         "Digital video cable for displays",
	"keyboard":          "Input device for typing",
	"mouse":             "Pointing device for cursor control",
	"monitor":           "Display screen for visual output",
	"speakers":          "Audio output devices for sound",
}

var acronyms = map[string]string{
	"ram":  "RAM",
	"ssd":  "SSD",
	"sim":  "SIM",
	"usb":  "USB",
	"hdmi": "HDMI",
	"vga":  "VGA",
	"dvi":  "DVI",
	"sata": "SATA",
}

var (
	titleCaser = cases.Title(language.English)
	tagPattern = regexp.MustCompile(`<[^>]*>?`)
)

// DisplayName turns a snake_case label into a title ("usb_port" -> "USB Port").
func DisplayName(label string) string {
	words := strings.FieldsFunc(label, func(r rune) bool { return r == '_' || r == '-' || r == ' ' })
	for i, w := range words {
		if a, ok := acronyms[strings.ToLower(w)]; ok {
			words[i] = a
			continue
		}
		words[i] = titleCaser.String(w)
	}
	return strings.Join(words, " ")
}

// FallbackExplanation is the static text used whenever no generated
// explanation is available.
func FallbackExplanation(label string) string {
	title := html.EscapeString(DisplayName(label))
	description, ok := componentDescriptions[strings.ToLower(label)]
	if !ok {
		return fmt.Sprintf("<h3>%s</h3>\n"+
			"<p>Hardware component detected. No detailed information available.</p>\n"+
			"<p>This appears to be a computer hardware component that requires specific handling and care.</p>", title)
	}
	return fmt.Sprintf("<h3>%s</h3>\n"+
		"<p><strong>Description:</strong> %s</p>\n"+
		"<p><em>Note: This is fallback information. For more detailed assistance, consult the component manual or a professional technician.</em></p>",
		title, html.EscapeString(description))
}

// PlainText strips markup from an explanation, e.g. for speech output or
// a terminal.
func PlainText(s string) string {
	return strings.TrimSpace(html.UnescapeString(tagPattern.ReplaceAllString(s, "")))
}

// Resolver turns a label into an Explanation. It never fails: anything
// going wrong with the explainer ends in the static fallback.
type Resolver struct {
	explainer Explainer
	timeout   time.Duration
}

func NewResolver(explainer Explainer, timeout time.Duration) *Resolver {
	return &Resolver{explainer: explainer, timeout: timeout}
}

func (r *Resolver) Resolve(ctx context.Context, label string) datastructures.Explanation {
	text, err := r.generate(ctx, label)
	if err != nil {
		log.Warn("[Scan] Explanation generation failed, using fallback: ", err.Error())
		return datastructures.Explanation{Text: FallbackExplanation(label), Source: datastructures.ExplanationFallback}
	}
	return datastructures.Explanation{Text: text, Source: datastructures.ExplanationGenerated}
}

func (r *Resolver) generate(ctx context.Context, label string) (text string, err error) {
	if r.explainer == nil {
		return "", ErrNoProvider
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("explainer panicked: %v", rec)
		}
	}()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	text, err = r.explainer.Explain(ctx, DisplayName(label))
	if err == nil && strings.TrimSpace(text) == "" {
		err = fmt.Errorf("empty explanation for %s", label)
	}
	return text, err
}
