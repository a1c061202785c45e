package orders

import "strconv"

const (
	TopicOrderProcess = "order.process"
	TopicOrderEvents  = "order.events"
)

// Partition key = order id so redeliveries of one task stay ordered.
func PartitionKey(orderID int64) []byte { return []byte(strconv.FormatInt(orderID, 10)) }
