package models

// All returns every model persisted in a tenant database, in migration order
func All() []interface{} {
	return []interface{}{
		&Plot{},
		&PlotSaleContract{},
		&ContractInstallment{},
		&ContractPayment{},
		&ContractEvent{},
	}
}
