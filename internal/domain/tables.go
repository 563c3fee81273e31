package domain

var Tables = []interface{}{
	// System
	&SysConfig{},
	&SysOpr{},
	&SysOprLog{},
	// WhatsApp mirror
	&WaAccountSnapshot{},
	&WaEventLog{},
}
