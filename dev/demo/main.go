package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golang/glog"

	"github.com/mqy/minichat/conf"
	"github.com/mqy/minichat/event"
)

// The demo tails the minichat events topic and prints every event, the way
// a push server would see them.

// kafka-topics.sh --bootstrap-server localhost:9092 --topic minichat-events --create
// kafka-topics.sh --bootstrap-server localhost:9092 --topic minichat-events --delete

var (
	kafkaBrokers = flag.String("kafka-brokers", "127.0.0.1:9092", "kafka brokers, ',' delimitted.")
	kafkaTopic   = flag.String("kafka-topic", conf.DefaultKafkaTopic, "events topic")
	kafkaGroupId = flag.String("kafka-group-id", "minichat-demo", "consumer group id")
)

func main() {
	flag.Parse()
	defer glog.Flush()

	if len(*kafkaBrokers) == 0 {
		fmt.Fprintln(os.Stderr, "--kafka-brokers is required.")
		os.Exit(1)
	}
	brokers := strings.Split(*kafkaBrokers, ",")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c := event.NewKafkaConsumer(brokers, *kafkaTopic, *kafkaGroupId, printEvent)
	c.Run(ctx)
}

func printEvent(_ context.Context, e *event.Event) error {
	msg := ""
	if e.MessageID != nil {
		msg = fmt.Sprintf(" #%d", *e.MessageID)
	}
	fmt.Printf("%s %-20s %s%s %s -> %s\n",
		e.Time.Local().Format(time.RFC3339), e.Type, e.ConversationID, msg, e.From, strings.Join(e.To, ","))
	return nil
}
