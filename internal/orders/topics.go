package orders

const (
	TopicOrderCreated       = "order.created"
	TopicOrderStatusChanged = "order.status.changed"
	TopicStockLow           = "inventory.stock.low"
)

// PartitionKey is the order id (product id for stock events), so the events
// of one entity stay ordered within a partition.
func PartitionKey(id string) []byte { return []byte(id) }
