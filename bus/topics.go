package bus

// Node topics.
var (
	// TopicState carries a StateEvent per controller transition.
	TopicState = T("node", "state")
	// TopicRecord carries each stored record, retained.
	TopicRecord = T("node", "record")
	// TopicUplink carries payloads sent over the loopback radio.
	TopicUplink = T("node", "uplink")
	// TopicSleep carries the chosen sleep duration, retained.
	TopicSleep = T("node", "sleep")
)
