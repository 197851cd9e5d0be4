// Command fluxtorrent downloads a single torrent to disk and exits once
// every piece is verified and written.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"fluxtorrent/elog"
	"fluxtorrent/engine"
)

func main() {
	savePath := flag.String("save-path", ".", "destination directory for downloaded files")
	verbose := flag.Bool("verbose", false, "log tracker and peer session activity")
	flag.Parse()

	args := flag.Args()
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: fluxtorrent [-save-path dir] [-verbose] torrent-file")
		os.Exit(2)
	}

	var logger elog.Logger
	if *verbose {
		logger = elog.NewStd(os.Stderr)
	} else {
		logger = elog.NoOp()
	}

	eng, err := engine.Construct(args[0], *savePath, logger)
	if err != nil {
		log.Fatal(err)
	}

	go reportProgress(eng)

	if err := eng.Start(); err != nil {
		log.Fatal(err)
	}
	fmt.Println("download complete")
}

func reportProgress(eng *engine.Engine) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		done := eng.CompletedCount()
		total := eng.NumPieces()
		fmt.Printf("%d/%d pieces, %d active peers\n", done, total, eng.ActivePeers())
		if done == total {
			return
		}
	}
}
