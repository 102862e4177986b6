// Command report renders an HTML acquisition report from a stored sequence.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/microscope-data/scope.report/internal/api"
	"github.com/microscope-data/scope.report/internal/handlers/sqlite"
)

var (
	dbPath = flag.String("db", "frames.db", "SQLite frame store path")
	uid    = flag.String("uid", "", "Sequence UID (default: most recent)")
	out    = flag.String("o", "report.html", "Output HTML file")
	list   = flag.Bool("list", false, "List stored sequences and exit")
)

func main() {
	flag.Parse()

	db, err := sqlite.Open(*dbPath)
	if err != nil {
		log.Fatalf("failed to open frame store: %v", err)
	}
	defer db.Close()

	if *list {
		infos, err := db.Sequences()
		if err != nil {
			log.Fatalf("failed to list sequences: %v", err)
		}
		for _, info := range infos {
			state := "running"
			if info.Finished {
				state = "finished"
			}
			fmt.Printf("%s  %s  %s  %d frames  %s\n",
				info.UID, info.StartedAt.Format("2006-01-02 15:04:05"),
				info.Camera, info.Frames, state)
		}
		return
	}

	target := *uid
	if target == "" {
		infos, err := db.Sequences()
		if err != nil {
			log.Fatalf("failed to list sequences: %v", err)
		}
		if len(infos) == 0 {
			log.Fatal("frame store holds no sequences")
		}
		target = infos[0].UID
	}

	points, err := db.FrameSeries(target)
	if err != nil {
		log.Fatalf("failed to load frames: %v", err)
	}

	f, err := os.Create(*out)
	if err != nil {
		log.Fatalf("failed to create output file: %v", err)
	}
	defer f.Close()

	if err := api.RenderSequenceReport(f, target, points); err != nil {
		log.Fatalf("failed to render report: %v", err)
	}
	fmt.Printf("wrote %s (%d frames of sequence %s)\n", *out, len(points), target)
}
