// relay_inspect dumps the relay's credential store and message log as
// tables, for poking at a badger directory offline.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/olekukonko/tablewriter"
)

func main() {
	dbPath := flag.String("db", "./chat-relay-db", "Path to badger DB")
	prefix := flag.String("prefix", "msg:", "Prefix to scan (user: or msg:)")
	flag.Parse()

	db, err := openDB(*dbPath)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	switch {
	case strings.HasPrefix(*prefix, "user:"):
		table.SetHeader([]string{"Name", "ID", "Created"})
		err = scan(db, *prefix, func(key string, val []byte) {
			var record struct {
				ID        int64  `json:"id"`
				Name      string `json:"name"`
				CreatedAt int64  `json:"created_at"`
			}
			if err := json.Unmarshal(val, &record); err != nil {
				fmt.Printf("Error unmarshaling key %s: %v\n", key, err)
				return
			}
			table.Append([]string{
				record.Name,
				fmt.Sprintf("%d", record.ID),
				time.Unix(record.CreatedAt, 0).UTC().Format(time.RFC822),
			})
		})
	default:
		table.SetHeader([]string{"Key", "Sender", "Receiver ID", "Delivered", "Text"})
		err = scan(db, *prefix, func(key string, val []byte) {
			var record struct {
				SenderName string `json:"sender_name"`
				ReceiverID int64  `json:"receiver_id"`
				Text       string `json:"text"`
				Delivered  bool   `json:"delivered"`
			}
			if err := json.Unmarshal(val, &record); err != nil {
				fmt.Printf("Error unmarshaling key %s: %v\n", key, err)
				return
			}
			table.Append([]string{
				key,
				record.SenderName,
				fmt.Sprintf("%d", record.ReceiverID),
				fmt.Sprintf("%t", record.Delivered),
				record.Text,
			})
		})
	}
	if err != nil {
		log.Fatal("Scan failed: ", err)
	}

	table.Render()
}

func openDB(path string) (*badger.DB, error) {
	// BypassLockGuard allows inspecting while the relay holds the lock
	return badger.Open(badger.DefaultOptions(path).
		WithReadOnly(true).
		WithBypassLockGuard(true).
		WithLoggingLevel(badger.WARNING))
}

func scan(db *badger.DB, prefix string, visit func(key string, val []byte)) error {
	return db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			key := string(item.Key())
			if err := item.Value(func(v []byte) error {
				visit(key, v)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
}
