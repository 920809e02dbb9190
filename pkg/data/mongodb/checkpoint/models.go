package checkpoint

// Collector is the checkpoint record of one ingestion job. The watermark is
// nil until the job has processed its first range.
type Collector struct {
	ID                       string `bson:"_id"`
	LastUpdatedAtBlockNumber *int64 `bson:"last_updated_at_block_number,omitempty"`
	UpdatedAt                int64  `bson:"updated_at,omitempty"`
}

// Height returns the watermark and whether one has been recorded.
func (c *Collector) Height() (uint64, bool) {
	if c == nil || c.LastUpdatedAtBlockNumber == nil || *c.LastUpdatedAtBlockNumber < 0 {
		return 0, false
	}
	return uint64(*c.LastUpdatedAtBlockNumber), true
}
