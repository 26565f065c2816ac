package p2p

// Metric family names reserved for P2P reporting. Transports must emit
// these consistently so dashboards survive a swap between implementations.
const (
	MetricP2PMessagesTotal = "p2p_msgs_total"         // {topic,direction,result}
	MetricP2PBytesTotal    = "p2p_bytes_total"        // {topic,direction}
	MetricP2PPeers         = "p2p_peers"              // gauge, connected peer count
	MetricOrderSyncTotal   = "ordersync_total"        // {role,result}
	MetricOrderSyncOrders  = "ordersync_orders_total" // {role}
)
