package models

// Region, SolarSystem, JumpEdge, Station and ItemType are reference data
// loaded by an external importer. They are only read here.

type Region struct {
	RegionID int32  `json:"region_id"`
	Name     string `json:"name"`
}

type SolarSystem struct {
	SystemID int32   `json:"system_id"`
	RegionID int32   `json:"region_id"`
	Name     string  `json:"name"`
	Security float64 `json:"security"`
}

// JumpEdge is directed; a two-way gate is two edges.
type JumpEdge struct {
	FromSystemID int32 `json:"from_system_id"`
	ToSystemID   int32 `json:"to_system_id"`
}

type Station struct {
	StationID int64  `json:"station_id"`
	SystemID  int32  `json:"solar_system_id"`
	Name      string `json:"name"`
}

type ItemType struct {
	TypeID int32  `json:"type_id"`
	Name   string `json:"name"`
}
