package shared

// Inventory permissions.
const (
	PermProductsView   = "products.view"
	PermProductsEdit   = "products.edit"
	PermStockView      = "stock.view"
	PermStockMutate    = "stock.mutate"
	PermPurchaseView   = "purchase.view"
	PermPurchaseEdit   = "purchase.edit"
	PermPurchaseDelete = "purchase.delete"
	PermSalesView      = "sales.view"
	PermSalesCreate    = "sales.create"
	PermSalesCancel    = "sales.cancel"
)

// StaffScopes lists the permissions granted to floor staff.
func StaffScopes() []string {
	return []string{
		PermProductsView,
		PermStockView,
		PermStockMutate,
		PermPurchaseView,
		PermSalesView,
		PermSalesCreate,
	}
}

// ManagerScopes extends staff scopes with purchasing and cancellation rights.
func ManagerScopes() []string {
	return append(StaffScopes(),
		PermProductsEdit,
		PermPurchaseEdit,
		PermSalesCancel,
	)
}

// AdminScopes grants everything.
func AdminScopes() []string {
	return append(ManagerScopes(), PermPurchaseDelete)
}

// RoleScopes returns the permissions granted to role.
func RoleScopes(role Role) []string {
	switch role {
	case RoleStaff:
		return StaffScopes()
	case RoleManager:
		return ManagerScopes()
	case RoleAdmin:
		return AdminScopes()
	}
	return nil
}
