package main

import (
	"encoding/json"
	"os"
)

// Config is the subscriber node configuration, assembled from flags and
// optionally overridden by a JSON file.
type Config struct {
	RemoteAddr   string `json:"remoteaddr"`
	Key          string `json:"key"`
	Tag          string `json:"tag"`
	RendezvousNS uint   `json:"rendezvousns"`
	EpochSecs    uint64 `json:"epochsecs"`
	OverlapSecs  uint64 `json:"overlapsecs"`
	Namespace    uint   `json:"namespace"`
	Epoch        uint   `json:"epoch"`
	DataShard    int    `json:"datashard"`
	ParityShard  int    `json:"parityshard"`
	CacheShards  int    `json:"cacheshards"`
	TTLSteps     uint64 `json:"ttlsteps"`
	Fanout       int    `json:"fanout"`
	TickMS       int    `json:"tickms"`
	Ack          bool   `json:"ack"`
	Log          string `json:"log"`
	Quiet        bool   `json:"quiet"`
}

func parseJSONConfig(config *Config, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return json.NewDecoder(file).Decode(config)
}
