package cmd

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// batchEntry is one episode request from a batch list. Dir overrides the
// global output directory when set.
type batchEntry struct {
	URL string `yaml:"url"`
	Dir string `yaml:"dir,omitempty"`
}

type batchList struct {
	Episodes []batchEntry `yaml:"episodes"`
}

func readBatchFile(path string) ([]batchEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading batch file: %v", err)
	}
	var list batchList
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("error parsing batch file: %v", err)
	}
	entries := make([]batchEntry, 0, len(list.Episodes))
	for i, entry := range list.Episodes {
		if entry.URL == "" {
			return nil, fmt.Errorf("batch entry %d has no url", i+1)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
