package shared

import "fmt"

// DocumentLockKey builds lock keys for per-document critical sections such as
// purchase order receipt or sale payment.
func DocumentLockKey(kind string, id int64) string {
	return fmt.Sprintf("storekeep:%s:%d:lock", kind, id)
}

// ProductLockKey builds the lock key serialising stock mutations of one product.
func ProductLockKey(productID int64) string {
	return fmt.Sprintf("storekeep:product:%d:stock", productID)
}
