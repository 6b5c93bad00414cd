package main

import (
	"bufio"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/fatih/color"
	"github.com/urfave/cli"
	kcp "github.com/xtaci/kcp-go/v5"

	"github.com/veilnet/veil/cache"
	"github.com/veilnet/veil/crypto"
	"github.com/veilnet/veil/node"
	"github.com/veilnet/veil/primitives"
	"github.com/veilnet/veil/publisher"
	"github.com/veilnet/veil/runtime"
	"github.com/veilnet/veil/transport"
)

const (
	// SALT is used for pbkdf2 key expansion
	SALT = "veil-net"
	// minKeyLen warns operators about weak pre-shared passphrases
	minKeyLen = 16
)

// VERSION is injected by buildflags
var VERSION = "SELFBUILD"

func checkError(err error) {
	if err != nil {
		log.Fatalf("%+v\n", err)
	}
}

func main() {
	if VERSION == "SELFBUILD" {
		// add more log flags for debugging
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "veil-publisher"
	myApp.Usage = "publish stdin lines as VEIL objects on a tag"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "listenaddr,l",
			Value: ":29900",
			Usage: "fast-lane listen address",
		},
		cli.StringFlag{
			Name:   "key",
			Value:  "it's a secrect",
			Usage:  "pre-shared secret between publisher and subscriber",
			EnvVar: "VEIL_KEY",
		},
		cli.StringFlag{
			Name:  "tag",
			Usage: "hex-encoded 32-byte tag to publish on",
		},
		cli.UintFlag{
			Name:  "namespace",
			Value: 32,
			Usage: "namespace for published objects",
		},
		cli.UintFlag{
			Name:  "epoch",
			Value: 0,
			Usage: "epoch for published objects",
		},
		cli.IntFlag{
			Name:  "datashard,ds",
			Value: 10,
			Usage: "set reed-solomon erasure coding - datashard on the KCP link",
		},
		cli.IntFlag{
			Name:  "parityshard,ps",
			Value: 3,
			Usage: "set reed-solomon erasure coding - parityshard on the KCP link",
		},
		cli.IntFlag{
			Name:  "cacheshards",
			Value: 4096,
			Usage: "maximum shards held in the forwarding cache",
		},
		cli.Uint64Flag{
			Name:  "ttlsteps",
			Value: 600,
			Usage: "cache and inbox TTL, in ticks",
		},
		cli.IntFlag{
			Name:  "tickms",
			Value: 50,
			Usage: "tick interval in milliseconds",
		},
		cli.BoolFlag{
			Name:  "ackwait",
			Usage: "request an ACK for every object and retry until acknowledged",
		},
		cli.IntFlag{
			Name:  "maxretries",
			Value: 8,
			Usage: "retries before an unacknowledged object is dropped",
		},
		cli.IntFlag{
			Name:  "retrybatch",
			Value: 4,
			Usage: "shards re-sent per retry",
		},
		cli.Uint64Flag{
			Name:  "backoffstep",
			Value: 20,
			Usage: "base retry backoff, in ticks",
		},
		cli.StringFlag{
			Name:  "snapshot",
			Value: "",
			Usage: "path to persist the pending publish queue across restarts",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "specify a log file to output, default goes to stderr",
		},
		cli.StringFlag{
			Name:  "c",
			Value: "",
			Usage: "config from json file, which will override the command from shell",
		},
	}
	myApp.Action = func(c *cli.Context) error {
		config := Config{}
		config.ListenAddr = c.String("listenaddr")
		config.Key = c.String("key")
		config.Tag = c.String("tag")
		config.Namespace = c.Uint("namespace")
		config.Epoch = c.Uint("epoch")
		config.DataShard = c.Int("datashard")
		config.ParityShard = c.Int("parityshard")
		config.CacheShards = c.Int("cacheshards")
		config.TTLSteps = c.Uint64("ttlsteps")
		config.TickMS = c.Int("tickms")
		config.AckWait = c.Bool("ackwait")
		config.MaxRetries = c.Int("maxretries")
		config.RetryBatch = c.Int("retrybatch")
		config.BackoffStep = c.Uint64("backoffstep")
		config.Snapshot = c.String("snapshot")
		config.Log = c.String("log")

		if c.String("c") != "" {
			err := parseJSONConfig(&config, c.String("c"))
			checkError(err)
		}

		// log redirect
		if config.Log != "" {
			f, err := os.OpenFile(config.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
			checkError(err)
			defer f.Close()
			log.SetOutput(f)
		}

		if len(config.Key) < minKeyLen {
			color.Red("WARNING: 'key' has size of %d bytes, a passphrase of %d bytes or more is recommended", len(config.Key), minKeyLen)
		}
		if config.AckWait && config.MaxRetries*config.RetryBatch < 8 {
			color.Red("WARNING: maxretries*retrybatch below 8, unacknowledged objects give up quickly on lossy links")
		}

		log.Println("version:", VERSION)
		log.Println("listening on:", config.ListenAddr)
		log.Println("datashard:", config.DataShard, "parityshard:", config.ParityShard)
		log.Println("cacheshards:", config.CacheShards)
		log.Println("ttlsteps:", config.TTLSteps)
		log.Println("tickms:", config.TickMS)
		log.Println("ackwait:", config.AckWait)

		log.Println("initiating key derivation")
		secret := pbkdf2.Key([]byte(config.Key), []byte(SALT), 4096, 32, sha1.New)
		log.Println("key derivation done")

		var tag primitives.Tag
		if config.Tag != "" {
			raw, err := hex.DecodeString(config.Tag)
			checkError(err)
			if len(raw) != primitives.IDSize {
				log.Fatal("tag must be exactly 32 hex-encoded bytes")
			}
			copy(tag[:], raw)
		} else {
			var recipientKey [primitives.IDSize]byte
			copy(recipientKey[:], secret)
			tag = primitives.DeriveRendezvousTag(recipientKey, primitives.Epoch(config.Epoch), primitives.Namespace(config.Namespace))
			log.Println("derived rendezvous tag:", tag)
		}

		var signSeed [32]byte
		copy(signSeed[:], secret)
		pipe := &publisher.Pipeline{
			Batcher:    publisher.NewFeedBatcher(0),
			Signer:     crypto.NewIdentitySigner(signSeed),
			EncryptKey: crypto.DeriveEncryptKey(secret),
			AEAD:       crypto.XChaCha{},
		}
		nonces, err := publisher.NewCounterNonce()
		checkError(err)
		pipe.Nonces = nonces

		if config.Snapshot != "" {
			if raw, err := os.ReadFile(config.Snapshot); err == nil {
				var snap publisher.StoreSnapshot
				checkError(json.Unmarshal(raw, &snap))
				pipe.Batcher.RestoreSnapshot(snap)
				log.Println("restored queued payloads:", pipe.Batcher.Len())
			}
		}

		lis, err := kcp.ListenWithOptions(config.ListenAddr, nil, config.DataShard, config.ParityShard)
		checkError(err)
		log.Println("waiting for the first subscriber session")
		conn, err := lis.AcceptKCP()
		checkError(err)
		conn.SetStreamMode(true)
		conn.SetWriteDelay(false)
		conn.SetNoDelay(1, 10, 2, 1)
		fastAdapter, err := transport.AcceptKCP(conn, "subscriber", secret)
		checkError(err)
		defer fastAdapter.Close()

		st := node.NewState(config.CacheShards)
		st.Subscribe(tag) // for the ACK objects coming back

		cfg := runtime.Config{
			MaxCacheShards:   config.CacheShards,
			TTLSteps:         config.TTLSteps,
			DrainBatch:       256,
			Tier:             cache.TierTrusted,
			PublishNamespace: primitives.Namespace(config.Namespace),
			PublishEpoch:     primitives.Epoch(config.Epoch),
			PublishTag:       tag,
			PublishOptions: publisher.Options{
				Signed:         true,
				AckRequested:   config.AckWait,
				MaxRetries:     config.MaxRetries,
				RetryBatchSize: config.RetryBatch,
				BackoffStep:    config.BackoffStep,
			},
		}
		rt := runtime.New(cfg, st,
			runtime.Lane{Adapter: fastAdapter, Peers: []string{"subscriber"}, Fanout: 3},
			runtime.Lane{Adapter: transport.NewMemory(), Fanout: 0},
			pipe, crypto.DeriveEncryptKey(secret), crypto.XChaCha{}, crypto.Ed25519Verifier{})

		// stdin lines become queued payloads; the tick loop below drains
		// them. The mutex serializes batcher access between the reader
		// goroutine and the tick loop.
		var mu sync.Mutex
		ns := primitives.Namespace(config.Namespace)
		go func() {
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				line := append([]byte(nil), scanner.Bytes()...)
				mu.Lock()
				pipe.Batcher.Enqueue(ns, line)
				mu.Unlock()
			}
		}()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

		var total runtime.Stats
		ticker := time.NewTicker(time.Duration(config.TickMS) * time.Millisecond)
		defer ticker.Stop()
		consecutive := 0
		for step := uint64(0); ; step++ {
			select {
			case <-sig:
				if config.Snapshot != "" {
					mu.Lock()
					raw, err := json.Marshal(pipe.Batcher.Snapshot())
					mu.Unlock()
					checkError(err)
					checkError(os.WriteFile(config.Snapshot, raw, 0644))
					log.Println("snapshot written to", config.Snapshot)
				}
				log.Printf("shutting down: delivered=%d ack_cleared=%d send_failures=%d",
					total.Delivered, total.AckCleared, total.SendFailures)
				return nil
			case <-ticker.C:
			}

			mu.Lock()
			delta, events, err := rt.PumpOnce(step)
			mu.Unlock()
			total.Add(delta)
			for _, ev := range events {
				switch ev.Kind {
				case node.EventAckCleared:
					log.Println("ack cleared for root", ev.Root)
				case node.EventAckFailed:
					color.Red("retries exhausted for root %s, object dropped", ev.Root)
				}
			}
			if err != nil {
				consecutive++
				if consecutive >= 30 {
					return err
				}
				time.Sleep(time.Second)
			} else {
				consecutive = 0
			}
		}
	}
	myApp.Run(os.Args)
}
