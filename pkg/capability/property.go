package capability

// Property is a readable device attribute exposed by PROP: an
// availability flag and a string value. The static MODL,
// PROD, SERN, BKRG, FIRM table binds one instance per id.
type Property interface {
	ID() ID
	IsAvailable() bool
	StringValue() string
}

type staticProperty struct {
	id        ID
	value     string
	available bool
}

func NewStaticProperty(id ID, value string, available bool) Property {
	return &staticProperty{id: id, value: value, available: available}
}

func (p *staticProperty) ID() ID             { return p.id }
func (p *staticProperty) IsAvailable() bool  { return p.available }
func (p *staticProperty) StringValue() string { return p.value }

// Identity holds the device-identity values the property table
// reports; a device without backup-region support or firmware
// reporting leaves the corresponding field empty, making that entry
// unavailable.
type Identity struct {
	Model        string
	Product      string
	Serial       string
	BackupRegion string
	Firmware     string
}

// PropertyTable builds the PROP table from device identity fields, in
// the fixed enumeration order the host relies on.
func PropertyTable(id Identity) []Property {
	return []Property{
		NewStaticProperty(PropModel, id.Model, id.Model != ""),
		NewStaticProperty(PropProduct, id.Product, id.Product != ""),
		NewStaticProperty(PropSerial, id.Serial, id.Serial != ""),
		NewStaticProperty(PropBackupRegion, id.BackupRegion, id.BackupRegion != ""),
		NewStaticProperty(PropFirmware, id.Firmware, id.Firmware != ""),
	}
}
