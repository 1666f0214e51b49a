package publisher_test

import (
	"fmt"
	"log"
	"os"

	"github.com/maxpert/binlogstream/binlog"
	"github.com/maxpert/binlogstream/publisher"
)

func ExamplePublishLog() {
	dir, err := os.MkdirTemp("", "publish-log-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	pubLog, err := publisher.OpenPublishLog(dir)
	if err != nil {
		log.Fatal(err)
	}
	defer pubLog.Close()

	b := binlog.NewEventBuilder(binlog.ChecksumOff)
	raw := b.Event(binlog.QueryEvent, binlog.QueryBody(7, "shop", "INSERT INTO orders VALUES (1)"))
	fde := binlog.NewFormatDescription(4, "8.0.36", binlog.ChecksumOff)
	ev, err := binlog.Deserialize(raw, uint32(len(raw)), fde, false)
	if err != nil {
		log.Fatal(err)
	}

	rec := publisher.FromEvent("primary", "/var/lib/mysql/binlog.000001", 4, ev)
	if err := pubLog.Append([]publisher.EventRecord{rec}); err != nil {
		log.Fatal(err)
	}

	records, err := pubLog.ReadFrom(0, 10)
	if err != nil {
		log.Fatal(err)
	}
	for _, r := range records {
		fmt.Println(r.SeqNum, r.Type, r.Database, r.StatementType, r.Key())
	}
	// Output: 1 QUERY_EVENT shop insert primary:binlog.000001:4
}
