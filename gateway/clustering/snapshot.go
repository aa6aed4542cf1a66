package clustering

// The JSON representation of this data is intentionally terse in order to allow
// it to potentially fit easily in UDP gossip messages.

type ServicePorts struct {
	Web    int `json:"w,omitempty"`
	Events int `json:"e,omitempty"`
}

type Member struct {
	MemberID       string       `json:"-"`
	ServerGroup    string       `json:"sg,omitempty"`
	Version        string       `json:"v,omitempty"`
	AdvertiseAddr  string       `json:"aa,omitempty"`
	AdvertisePorts ServicePorts `json:"ap,omitempty"`

	// StreamKey is the feed stream this member relays when elected.
	StreamKey string `json:"sk,omitempty"`
}

type Snapshot struct {
	Revision []uint64
	Members  []*Member
}
