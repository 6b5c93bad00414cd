package main

import (
	"encoding/json"
	"os"
)

// Config is the publisher node configuration, assembled from flags and
// optionally overridden by a JSON file.
type Config struct {
	ListenAddr  string `json:"listenaddr"`
	Key         string `json:"key"`
	Tag         string `json:"tag"`
	Namespace   uint   `json:"namespace"`
	Epoch       uint   `json:"epoch"`
	DataShard   int    `json:"datashard"`
	ParityShard int    `json:"parityshard"`
	CacheShards int    `json:"cacheshards"`
	TTLSteps    uint64 `json:"ttlsteps"`
	TickMS      int    `json:"tickms"`
	AckWait     bool   `json:"ackwait"`
	MaxRetries  int    `json:"maxretries"`
	RetryBatch  int    `json:"retrybatch"`
	BackoffStep uint64 `json:"backoffstep"`
	Snapshot    string `json:"snapshot"`
	Log         string `json:"log"`
}

func parseJSONConfig(config *Config, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return json.NewDecoder(file).Decode(config)
}
