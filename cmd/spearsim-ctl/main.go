// Command spearsim-ctl reads and writes simulator control variables over
// Redis pub/sub.
//
// Usage:
//
//	spearsim-ctl get [--redis addr] [--target spear-01] <name>
//	spearsim-ctl set [--redis addr] [--target spear-01] <name> <value>
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/beamsim/spearsim/internal/protocol"
	"github.com/beamsim/spearsim/internal/pvclient"
)

const ctlVersion = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "get":
		cmdGet(os.Args[2:])
	case "set":
		cmdSet(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  spearsim-ctl get [--redis addr] [--target instance] <name>")
	fmt.Fprintln(os.Stderr, "  spearsim-ctl set [--redis addr] [--target instance] <name> <value>")
}

// newClient connects to Redis and starts a pv client for the target instance.
func newClient(ctx context.Context, redisAddr, target string) (*pvclient.Client, *redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("cannot connect to Redis at %s: %w", redisAddr, err)
	}

	source := protocol.Source{
		Service:  "spearsim_ctl",
		Instance: "ctl-" + uuid.New().String()[:8],
		Version:  ctlVersion,
	}
	client := pvclient.New(rdb, source, target)
	go client.Run(ctx)

	// Give the subscription a moment to establish before publishing.
	time.Sleep(100 * time.Millisecond)
	return client, rdb, nil
}

func cmdGet(args []string) {
	flags := flag.NewFlagSet("get", flag.ExitOnError)
	redisAddr := flags.String("redis", "localhost:6379", "Redis address")
	target := flags.String("target", "spear-01", "simulator instance")
	flags.Parse(args)

	if flags.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "get requires a variable name")
		os.Exit(1)
	}
	name := flags.Arg(0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, rdb, err := newClient(ctx, *redisAddr, *target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer rdb.Close()

	value, err := client.Read(ctx, name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(value)
}

func cmdSet(args []string) {
	flags := flag.NewFlagSet("set", flag.ExitOnError)
	redisAddr := flags.String("redis", "localhost:6379", "Redis address")
	target := flags.String("target", "spear-01", "simulator instance")
	flags.Parse(args)

	if flags.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "set requires a variable name and a value")
		os.Exit(1)
	}
	name, value := flags.Arg(0), flags.Arg(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, rdb, err := newClient(ctx, *redisAddr, *target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer rdb.Close()

	outcome, err := client.Write(ctx, name, value)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s = %s\n", outcome.Name, outcome.Stored)
	if !outcome.Accepted() {
		fmt.Fprintf(os.Stderr, "rejected: requested %s, simulator stored %s\n", outcome.Requested, outcome.Stored)
		os.Exit(1)
	}
}
