// Package config persists emulator settings in the platform config
// directory.
package config

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/shibukawa/configdir"
)

const fileName = "config.json"

var dirs = configdir.New("flipper", "")

// Settings are the user-tunable knobs.
type Settings struct {
	// MaxIns caps instructions per translation unit.
	MaxIns int `json:"max_ins"`
	// BudgetMax bounds the combined translation and vertex cache cost.
	BudgetMax int64 `json:"budget_max"`
	// Speculative enables background compilation of branch targets.
	Speculative bool `json:"speculative"`
	// Trace enables the block and register trace on stderr.
	Trace bool `json:"trace"`
}

func Defaults() Settings {
	return Settings{
		MaxIns:      128,
		BudgetMax:   1 << 20,
		Speculative: true,
	}
}

// Load reads settings from the config directory, falling back to defaults
// when no file exists yet.
func Load() (Settings, error) {
	s := Defaults()
	folder := dirs.QueryFolderContainsFile(fileName)
	if folder == nil {
		return s, nil
	}
	data, err := folder.ReadFile(fileName)
	if err != nil {
		return s, errors.Wrap(err, "reading config")
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return Defaults(), errors.Wrap(err, "parsing config")
	}
	return s, nil
}

// Save writes settings to the global config directory.
func (s Settings) Save() error {
	folders := dirs.QueryFolders(configdir.Global)
	if len(folders) == 0 {
		return errors.New("no config directory available")
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return errors.Wrap(folders[0].WriteFile(fileName, data), "writing config")
}
