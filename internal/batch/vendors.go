package batch

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/imran1337/solid-prediction/internal/indexer"
)

//go:embed vendors.yaml
var defaultVendorsYAML []byte

type vendorFile struct {
	Vendors []indexer.VendorCategory `yaml:"vendors"`
}

// LoadVendors reads the batch vendor list from path, or the built-in list
// when path is empty.
func LoadVendors(path string) ([]indexer.VendorCategory, error) {
	raw := defaultVendorsYAML
	src := "built-in"
	if p := strings.TrimSpace(path); p != "" {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read vendors file: %w", err)
		}
		raw, src = b, p
	}
	return parseVendors(raw, src)
}

func parseVendors(raw []byte, src string) ([]indexer.VendorCategory, error) {
	var vf vendorFile
	if err := yaml.Unmarshal(raw, &vf); err != nil {
		return nil, fmt.Errorf("parse vendors (%s): %w", src, err)
	}
	seen := map[string]bool{}
	out := make([]indexer.VendorCategory, 0, len(vf.Vendors))
	for i, vc := range vf.Vendors {
		vc.Vendor = strings.TrimSpace(vc.Vendor)
		vc.Category = strings.TrimSpace(vc.Category)
		if !vc.Valid() {
			return nil, fmt.Errorf("vendors (%s): entry %d needs vendor and category", src, i)
		}
		if seen[vc.Key()] {
			continue
		}
		seen[vc.Key()] = true
		out = append(out, vc)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("vendors (%s): list is empty", src)
	}
	return out, nil
}
