// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package config loads the channel asset set from an INI file. Each section is
// one asset, named by its symbol. Section order is balance slot order.
//
//	[ETH]
//	family = ethereum
//	assetholder = 0x...
//	chainid = 1337
//
//	[SOL]
//	family = solana
//	mint =
//	exponent = 9
package config

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"strings"

	"decred.org/chandex/dex"
	"gopkg.in/ini.v1"
)

// assetSection is the mapped form of one asset section.
type assetSection struct {
	Family      string `ini:"family"`
	AssetHolder string `ini:"assetholder"`
	ChainID     string `ini:"chainid"`
	Mint        string `ini:"mint"`
	Exponent    int    `ini:"exponent"`
}

// LoadAssets parses an asset set from a file path or []byte data.
func LoadAssets(cfgPathOrData any) (*dex.Assets, error) {
	cfgFile, err := ini.Load(cfgPathOrData)
	if err != nil {
		return nil, err
	}
	var infos []*dex.AssetInfo
	for _, section := range cfgFile.Sections() {
		if section.Name() == ini.DefaultSection {
			if len(section.Keys()) > 0 {
				return nil, fmt.Errorf("asset options outside of a section")
			}
			continue
		}
		ai, err := parseSection(section)
		if err != nil {
			return nil, fmt.Errorf("asset %s: %w", section.Name(), err)
		}
		infos = append(infos, ai)
	}
	return dex.NewAssets(infos...)
}

func parseSection(section *ini.Section) (*dex.AssetInfo, error) {
	var s assetSection
	if err := section.StrictMapTo(&s); err != nil {
		return nil, err
	}
	fam, err := dex.FamilyFromString(s.Family)
	if err != nil {
		return nil, err
	}
	if s.Exponent < 0 || s.Exponent > math.MaxUint8 {
		return nil, fmt.Errorf("exponent %d out of range", s.Exponent)
	}
	ref := dex.AssetRef{Family: fam}
	switch fam {
	case dex.Ethereum:
		if s.Mint != "" {
			return nil, fmt.Errorf("mint set for an Ethereum asset")
		}
		if s.ChainID == "" {
			return nil, fmt.Errorf("no chain ID")
		}
		ref.AssetHolder, ref.ChainID = s.AssetHolder, s.ChainID
	case dex.Solana:
		if s.AssetHolder != "" || s.ChainID != "" {
			return nil, fmt.Errorf("Ethereum options set for a Solana asset")
		}
		ref.Mint = s.Mint
	}
	return &dex.AssetInfo{
		Ref:      ref,
		Symbol:   strings.ToUpper(section.Name()),
		Exponent: uint8(s.Exponent),
	}, nil
}

// AssetsINIData encodes the asset set in the format read by LoadAssets.
func AssetsINIData(assets *dex.Assets) ([]byte, error) {
	cfgFile := ini.Empty()
	for i := 0; i < assets.Len(); i++ {
		ai := assets.At(i)
		section, err := cfgFile.NewSection(ai.Symbol)
		if err != nil {
			return nil, err
		}
		s := &assetSection{
			Family:      strings.ToLower(ai.Ref.Family.String()),
			AssetHolder: ai.Ref.AssetHolder,
			ChainID:     ai.Ref.ChainID,
			Mint:        ai.Ref.Mint,
			Exponent:    int(ai.Exponent),
		}
		if err := section.ReflectFrom(s); err != nil {
			return nil, err
		}
	}
	var buf bytes.Buffer
	if _, err := cfgFile.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// LoadOrCreateAssets reads the asset file at path. If the file does not
// exist, the defaults are written there and returned.
func LoadOrCreateAssets(path string, defaults *dex.Assets) (*dex.Assets, error) {
	if _, err := os.Stat(path); err == nil {
		return LoadAssets(path)
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	b, err := AssetsINIData(defaults)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, b, 0600); err != nil {
		return nil, fmt.Errorf("error writing asset file: %w", err)
	}
	return defaults, nil
}
