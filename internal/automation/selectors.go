package automation

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed selectors.yaml
var defaultSelectors []byte

// Selectors are the CSS selectors and texts used to drive the Yuque UI.
type Selectors struct {
	ExportMenuIcon  string   `yaml:"export_menu_icon"`
	MenuItem        string   `yaml:"menu_item"`
	ExportMenuTexts []string `yaml:"export_menu_texts"`

	SelectedCatalogItem string `yaml:"selected_catalog_item"`
	MoreIcon            string `yaml:"more_icon"`
	MoreButton          string `yaml:"more_button"`
	CatalogRow          string `yaml:"catalog_row"`
	AltMoreIcon         string `yaml:"alt_more_icon"`

	HeaderExportIcon   string `yaml:"header_export_icon"`
	HeaderExportButton string `yaml:"header_export_button"`
	Button             string `yaml:"button"`

	MarkdownOption string `yaml:"markdown_option"`
	ConfirmButton  string `yaml:"confirm_button"`

	VideoCard   string `yaml:"video_card"`
	VideoSource string `yaml:"video_source"`

	// PluginMarker is the attribute carried by controls this tool adds to the page.
	PluginMarker string `yaml:"plugin_marker"`

	CatalogItems string `yaml:"catalog_items"`
	Menus        string `yaml:"menus"`
}

// DefaultSelectors returns the built-in selectors.
func DefaultSelectors() Selectors {
	var s Selectors
	if err := yaml.Unmarshal(defaultSelectors, &s); err != nil {
		panic(fmt.Sprintf("automation: invalid embedded selectors: %v", err))
	}

	return s
}

// LoadSelectors overlays the YAML file at path on the defaults. An empty path
// returns the defaults.
func LoadSelectors(path string) (Selectors, error) {
	s := DefaultSelectors()
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Selectors{}, fmt.Errorf("failed to read selectors file: %w", err)
	}

	return ParseSelectors(data)
}

// ParseSelectors overlays YAML data on the defaults.
func ParseSelectors(data []byte) (Selectors, error) {
	s := DefaultSelectors()
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Selectors{}, fmt.Errorf("failed to parse selectors: %w", err)
	}

	return s, nil
}
