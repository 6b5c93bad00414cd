package main

import (
	"crypto/sha1"
	"encoding/hex"
	"log"
	"os"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/fatih/color"
	"github.com/urfave/cli"

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
	myApp.Name = "veil-subscriber"
	myApp.Usage = "subscribe to a VEIL tag and print delivered objects"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "remoteaddr, r",
			Value: "vps:29900",
			Usage: "fast-lane relay address, eg: \"IP:29900\"",
		},
		cli.StringFlag{
			Name:   "key",
			Value:  "it's a secrect",
			Usage:  "pre-shared secret between publisher and subscriber",
			EnvVar: "VEIL_KEY",
		},
		cli.StringFlag{
			Name:  "tag",
			Usage: "hex-encoded 32-byte subscription tag; empty derives a rendezvous tag from the key",
		},
		cli.UintFlag{
			Name:  "rendezvousns",
			Value: 32,
			Usage: "namespace for rendezvous tag derivation when -tag is empty",
		},
		cli.Uint64Flag{
			Name:  "epochsecs",
			Value: 3600,
			Usage: "rendezvous epoch window length in seconds",
		},
		cli.Uint64Flag{
			Name:  "overlapsecs",
			Value: 300,
			Usage: "overlap into the next rendezvous window in seconds",
		},
		cli.UintFlag{
			Name:  "namespace",
			Value: 32,
			Usage: "namespace for ACK objects this node publishes",
		},
		cli.UintFlag{
			Name:  "epoch",
			Value: 0,
			Usage: "epoch for ACK objects this node publishes",
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
			Name:  "fanout",
			Value: 3,
			Usage: "peers to forward each fresh shard to",
		},
		cli.IntFlag{
			Name:  "tickms",
			Value: 50,
			Usage: "tick interval in milliseconds",
		},
		cli.BoolFlag{
			Name:  "ack",
			Usage: "answer every delivered object with an ACK object",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "specify a log file to output, default goes to stderr",
		},
		cli.BoolFlag{
			Name:  "quiet",
			Usage: "suppress delivered-payload logging",
		},
		cli.StringFlag{
			Name:  "c",
			Value: "",
			Usage: "config from json file, which will override the command from shell",
		},
	}
	myApp.Action = func(c *cli.Context) error {
		config := Config{}
		config.RemoteAddr = c.String("remoteaddr")
		config.Key = c.String("key")
		config.Tag = c.String("tag")
		config.RendezvousNS = c.Uint("rendezvousns")
		config.EpochSecs = c.Uint64("epochsecs")
		config.OverlapSecs = c.Uint64("overlapsecs")
		config.Namespace = c.Uint("namespace")
		config.Epoch = c.Uint("epoch")
		config.DataShard = c.Int("datashard")
		config.ParityShard = c.Int("parityshard")
		config.CacheShards = c.Int("cacheshards")
		config.TTLSteps = c.Uint64("ttlsteps")
		config.Fanout = c.Int("fanout")
		config.TickMS = c.Int("tickms")
		config.Ack = c.Bool("ack")
		config.Log = c.String("log")
		config.Quiet = c.Bool("quiet")

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

		log.Println("version:", VERSION)
		log.Println("remote address:", config.RemoteAddr)
		log.Println("datashard:", config.DataShard, "parityshard:", config.ParityShard)
		log.Println("cacheshards:", config.CacheShards)
		log.Println("ttlsteps:", config.TTLSteps)
		log.Println("fanout:", config.Fanout)
		log.Println("tickms:", config.TickMS)
		log.Println("ack:", config.Ack)

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

		fastAdapter, err := transport.DialKCP(config.RemoteAddr, "relay", config.DataShard, config.ParityShard, secret)
		checkError(err)
		defer fastAdapter.Close()

		cfg := runtime.Config{
			MaxCacheShards:   config.CacheShards,
			TTLSteps:         config.TTLSteps,
			DrainBatch:       256,
			Tier:             cache.TierCommunity,
			EmitAcks:         config.Ack,
			PublishNamespace: primitives.Namespace(config.Namespace),
			PublishEpoch:     primitives.Epoch(config.Epoch),
			PublishOptions:   publisher.Options{Signed: true},
		}

		st := node.NewState(config.CacheShards)
		if config.Tag != "" {
			st.Subscribe(tag)
			cfg.PublishTag = tag
		} else {
			var recipientKey [primitives.IDSize]byte
			copy(recipientKey[:], secret)
			tags := st.SubscribeRendezvousWindow(recipientKey, primitives.Namespace(config.RendezvousNS),
				uint64(time.Now().Unix()), config.EpochSecs, config.OverlapSecs)
			cfg.PublishTag = tags[0]
			log.Println("rendezvous tags subscribed:", len(tags))
		}
		log.Println("subscriptions:", st.SubscriptionCount())

		rt := runtime.New(cfg, st,
			runtime.Lane{Adapter: fastAdapter, Peers: []string{"relay"}, Fanout: config.Fanout},
			runtime.Lane{Adapter: transport.NewMemory(), Fanout: 0},
			pipe, crypto.DeriveEncryptKey(secret), crypto.XChaCha{}, crypto.Ed25519Verifier{})

		_, err = runtime.RunSteps(rt, 0, 0, runtime.DriverConfig{
			TickInterval:         time.Duration(config.TickMS) * time.Millisecond,
			ErrorBackoff:         time.Second,
			MaxConsecutiveErrors: 30,
		}, func(ev node.Event) {
			switch ev.Kind {
			case node.EventDelivered:
				if !config.Quiet {
					log.Printf("delivered %d bytes for root %s", len(ev.Payload), ev.Root)
					os.Stdout.Write(append(ev.Payload, '\n'))
				}
			case node.EventAckCleared:
				log.Println("ack cleared for root", ev.Root)
			}
		})
		return err
	}
	myApp.Run(os.Args)
}
