package model

import (
	"time"
)

// Asset holds attributes of a plant asset as merged from inventory uploads.
//
// The Tag is the identity of an asset, it never changes once the asset is created.
//
// nolint:govet // fieldalignment struct is easier to read in the current format
type Asset struct {
	Tag string `json:"asset_tag"`

	Name   string      `json:"name"`
	Status AssetStatus `json:"status"`

	// Manufacturer attributes
	Manufacturer string `json:"manufacturer,omitempty"`
	Model        string `json:"model,omitempty"`
	OSInfo       string `json:"os_info,omitempty"`

	// Searchable location attributes
	Location    string `json:"location,omitempty"`
	IPAddress   string `json:"ip_address,omitempty"`
	SystemGroup string `json:"system_group,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AssetSummary is the identity and display name of an asset.
type AssetSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Summary returns the asset identity and display name, falling back to the tag when unnamed.
func (a Asset) Summary() AssetSummary {
	name := a.Name
	if name == "" {
		name = a.Tag
	}

	return AssetSummary{ID: a.Tag, Name: name}
}

// Descriptive returns a copy of the asset without its bookkeeping timestamps,
// two assets with equal Descriptive values carry the same information.
func (a Asset) Descriptive() Asset {
	a.CreatedAt = time.Time{}
	a.UpdatedAt = time.Time{}

	return a
}
