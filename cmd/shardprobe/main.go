// Command shardprobe is a small ops tool for inspecting a Kinesis stream's
// partitions and their earliest/latest sequence numbers without standing up
// a full supplier, grounded on the teacher's cmd/benthos/main.go +
// internal/cli/run.go shape (urfave/cli/v2 app, fatih/color for status
// output) scaled down to a single-purpose diagnostic command.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/usedatabrew/streamsupplier/internal/probe"
	"github.com/usedatabrew/streamsupplier/internal/record"
	"github.com/usedatabrew/streamsupplier/internal/streamclient"
)

func main() {
	app := &cli.App{
		Name:  "shardprobe",
		Usage: "inspect a Kinesis stream's partitions and sequence-number bounds",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "stream",
				Aliases:  []string{"s"},
				Usage:    "stream name",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "region",
				Usage: "AWS region",
				Value: "us-east-1",
			},
			&cli.DurationFlag{
				Name:  "probe-timeout",
				Usage: "max wall time for each earliest or latest probe of a partition",
				Value: 30 * time.Second,
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "list the stream's partition ids",
				Action: func(c *cli.Context) error {
					client := buildClient(c)
					ids, err := client.ListPartitions(c.Context, c.String("stream"))
					if err != nil {
						return fail(err)
					}
					for _, id := range ids {
						fmt.Println(id)
					}
					return nil
				},
			},
			{
				Name:  "bounds",
				Usage: "probe each partition's earliest and latest sequence number",
				Action: func(c *cli.Context) error {
					client := buildClient(c)
					stream := c.String("stream")
					timeout := c.Duration("probe-timeout")

					ids, err := client.ListPartitions(c.Context, stream)
					if err != nil {
						return fail(err)
					}
					for _, id := range ids {
						p := record.StreamPartition{StreamID: stream, PartitionID: id}
						printBounds(c.Context, client, p, timeout)
					}
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
		os.Exit(1)
	}
}

func buildClient(c *cli.Context) *streamclient.KinesisClient {
	sess := session.Must(session.NewSession(&aws.Config{Region: aws.String(c.String("region"))}))
	return streamclient.NewKinesisClient(sess)
}

func printBounds(ctx context.Context, client streamclient.Client, p record.StreamPartition, timeout time.Duration) {
	earliest, err := probe.Discover(ctx, client, p, streamclient.TrimHorizon, timeout)
	if err != nil {
		fmt.Printf("%s  %s\n", color.YellowString(p.PartitionID), color.RedString("earliest: %v", err))
		return
	}
	latest, err := probe.Discover(ctx, client, p, streamclient.Latest, timeout)
	if err != nil {
		fmt.Printf("%s  %s\n", color.YellowString(p.PartitionID), color.RedString("latest: %v", err))
		return
	}
	fmt.Printf("%s  earliest=%s  latest=%s\n",
		color.CyanString(p.PartitionID),
		describeProbe(earliest),
		describeProbe(latest),
	)
}

func describeProbe(r probe.Result) string {
	switch {
	case r.EndOfShard:
		return color.YellowString("END_OF_SHARD")
	case r.TimedOut:
		return color.RedString("timed out")
	default:
		return color.GreenString(r.Sequence)
	}
}

func fail(err error) error {
	return cli.Exit(err.Error(), 1)
}
