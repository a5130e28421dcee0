package events

const (
	TopicOrderItemCreated = "order.item.created"
	TopicOrderPaid        = "order.paid"
	TopicOrderCancelled   = "order.cancelled"
	TopicStockRejected    = "order.stock.rejected"
)

// TopicFor maps an event type to its topic; "" for unknown types.
func TopicFor(eventType string) string {
	switch eventType {
	case EventOrderItemCreated:
		return TopicOrderItemCreated
	case EventOrderPaid:
		return TopicOrderPaid
	case EventOrderCancelled:
		return TopicOrderCancelled
	case EventStockRejected:
		return TopicStockRejected
	}
	return ""
}

// Partition key = order_id so every event of one order keeps its order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
