package redisx

import "fmt"

// Product lock: inventory:product:{product_id} -> owner token
const KeyProductLock = "inventory:product:%d"

func ProductLockKey(productID int64) string { return fmt.Sprintf(KeyProductLock, productID) }
