package parse

import (
	"github.com/metal-toolbox/pms/internal/model"
)

func assetsFromTable(t *table) (*Result, error) {
	if err := t.require("asset_tag"); err != nil {
		return nil, err
	}

	// event and check records carry an asset_tag too, they are never admitted as inventory.
	if err := t.reject("event_id", "check_date"); err != nil {
		return nil, err
	}

	result := &Result{Kind: model.KindAsset}

	for _, r := range t.rows {
		result.Assets = append(result.Assets, &model.Asset{
			Tag: r.get("asset_tag"),
			// status labels are normalized by the validator.
			Status:       model.AssetStatus(r.get("status")),
			Name:         r.get("name"),
			Manufacturer: r.get("manufacturer"),
			Model:        r.get("model"),
			OSInfo:       r.get("os_info"),
			Location:     r.get("location"),
			IPAddress:    r.get("ip_address"),
			SystemGroup:  r.get("system_group"),
		})
	}

	return result, nil
}

// AssetCSV parses an asset inventory CSV, the asset_tag column is required.
func AssetCSV(member string, data []byte) (*Result, error) {
	t, err := readCSV(member, data)
	if err != nil {
		return nil, err
	}

	return assetsFromTable(t)
}

// AssetJSON parses an asset object or an array of assets.
func AssetJSON(member string, data []byte) (*Result, error) {
	t, err := readJSON(member, data)
	if err != nil {
		return nil, err
	}

	return assetsFromTable(t)
}

// AssetXLSX parses the first sheet of an asset inventory workbook.
func AssetXLSX(member string, data []byte) (*Result, error) {
	t, err := readXLSX(member, data)
	if err != nil {
		return nil, err
	}

	return assetsFromTable(t)
}
