package main

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
)

//go:embed data/schemes/default.json
var defaultSchemeJSON []byte

// Scheme is the gameplay configuration attached to a room at creation time
// and copied into the game it starts. A room's capacity is its scheme's
// player limit.
type Scheme struct {
	PlayerLimit  int          `json:"player_limit"`
	PlayerScheme PlayerScheme `json:"player_scheme"`
}

// PlayerScheme sizes the per-player simulation state seeded into a game.
type PlayerScheme struct {
	Weapons   []Ammo     `json:"weapons"`
	WormCount int        `json:"worm_count"`
	WormHP    int        `json:"worm_hp"`
	WormNames [][]string `json:"worm_names"`
}

// Ammo is a weapon with its starting round count. A count of -1 means
// unlimited.
type Ammo struct {
	Weapon string `json:"weapon"`
	Count  int    `json:"count"`
}

// clone returns a deep copy, so holders of a scheme snapshot never observe
// later mutation through shared slices.
func (s Scheme) clone() Scheme {
	out := s

	out.PlayerScheme.Weapons = make([]Ammo, len(s.PlayerScheme.Weapons))
	copy(out.PlayerScheme.Weapons, s.PlayerScheme.Weapons)

	out.PlayerScheme.WormNames = make([][]string, len(s.PlayerScheme.WormNames))
	for i, names := range s.PlayerScheme.WormNames {
		out.PlayerScheme.WormNames[i] = make([]string, len(names))
		copy(out.PlayerScheme.WormNames[i], names)
	}

	return out
}

// wormName picks a name for worm j of player i, falling back to a generated
// one when the scheme's name table is too small.
func (s Scheme) wormName(i, j int) string {
	names := s.PlayerScheme.WormNames
	if i < len(names) && j < len(names[i]) {
		return names[i][j]
	}
	return fmt.Sprintf("Worm %d-%d", i+1, j+1)
}

func loadScheme(cfg *Config) (Scheme, error) {
	data := defaultSchemeJSON

	if cfg.scheme != "" {
		var err error
		data, err = os.ReadFile(cfg.scheme)
		if err != nil {
			return Scheme{}, err
		}
	}

	var scheme Scheme
	if err := json.Unmarshal(data, &scheme); err != nil {
		return Scheme{}, fmt.Errorf("scheme: %w", err)
	}

	if scheme.PlayerLimit < 1 {
		return Scheme{}, fmt.Errorf("scheme: invalid player limit: %d", scheme.PlayerLimit)
	}
	if scheme.PlayerScheme.WormCount < 1 {
		return Scheme{}, fmt.Errorf("scheme: invalid worm count: %d", scheme.PlayerScheme.WormCount)
	}

	return scheme, nil
}
