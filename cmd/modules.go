package cmd

import (
	"github.com/predicateautomate/drugsync/internal/config"
	"github.com/predicateautomate/drugsync/internal/utils"
	"github.com/predicateautomate/drugsync/pkg/sources"
	"github.com/predicateautomate/drugsync/pkg/sources/fda"
	"github.com/predicateautomate/drugsync/pkg/sources/file"
	"github.com/predicateautomate/drugsync/pkg/whttp"
)

// module is one registered regulatory dataset.
type module struct {
	Key         string
	Description string
	Country     func(cfg config.Config) int
	NewSource   func(cfg config.Config, client *whttp.Client) sources.Source
}

var registry = []module{
	{
		Key:         fda.ModuleName,
		Description: "FDA Drugs@FDA applications, submissions and products",
		Country:     func(cfg config.Config) int { return cfg.FDA.Country },
		NewSource: func(cfg config.Config, client *whttp.Client) sources.Source {
			if cfg.FDA.SourceFile != "" {
				return &file.Source{Module: fda.ModuleName, Path: cfg.FDA.SourceFile}
			}
			return &fda.Source{
				Client:      client,
				Transport:   cfg.FDA.Transport,
				BulkURL:     cfg.FDA.BulkURL,
				ManifestURL: cfg.FDA.ManifestURL,
				APIURL:      cfg.FDA.APIURL,
				PageSize:    cfg.FDA.APIPageSize,
				MaxSkip:     cfg.FDA.APIMaxSkip,
				Log:         utils.Log,
			}
		},
	},
}

func findModule(key string) (module, bool) {
	for _, m := range registry {
		if m.Key == key {
			return m, true
		}
	}
	return module{}, false
}
