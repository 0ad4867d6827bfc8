package datasource

// ColumnDescriptor describes one live column of a physical table.
type ColumnDescriptor struct {
	Name            string  `json:"name"`
	DataType        string  `json:"dataType"`
	IsNullable      bool    `json:"isNullable"`
	DefaultValue    *string `json:"defaultValue,omitempty"`
	IsPrimaryKey    bool    `json:"isPrimaryKey"`
	IsUnique        bool    `json:"isUnique"`
	OrdinalPosition int     `json:"ordinalPosition"`
}

// EngineInfo reports which engine an adapter drives and its connection state.
type EngineInfo struct {
	Type            string `json:"type"`
	DisplayName     string `json:"displayName"`
	Driver          string `json:"driver,omitempty"`
	Connected       bool   `json:"connected"`
	TransactionOpen bool   `json:"transactionOpen"`
}

// ColumnNames returns the names of cols in order.
func ColumnNames(cols []ColumnDescriptor) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}
