package structs

// RestResponse is the generic response wrapper returned by the HTTP API.
type RestResponse struct {
	Ok    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

// StatusEndpointResponse represents the response to /shepherd/api/status.
type StatusEndpointResponse struct {
	Uptime     string                `json:"uptime"`
	ShardCount int32                 `json:"shard_count"`
	Shards     []StatusEndpointShard `json:"shards"`
}

// StatusEndpointShard represents a single shard in the status response.
type StatusEndpointShard struct {
	ShardID int32       `json:"shard_id"`
	Status  ShardStatus `json:"status"`
}
