// Package main provides the maptool binary: offline inspection,
// conversion, and route queries over a map database.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/mapgraph/internal/atlas"
	"github.com/cory-johannsen/mapgraph/internal/config"
	"github.com/cory-johannsen/mapgraph/internal/observability"
	"github.com/cory-johannsen/mapgraph/internal/pathfind"
	"github.com/cory-johannsen/mapgraph/internal/scripting"
)

const usage = `usage: maptool [-config FILE] COMMAND [ARGS]

commands:
  check                 load the map database and report statistics
  convert OUT           load, then save in the format of OUT's extension
  path FROM TO          shortest route between two rooms (id, u<uid>, or title)
  nearest FROM TAG      closest room carrying TAG, measured from FROM
`

func main() {
	configPath := flag.String("config", "configs/maptool.yaml", "path to configuration file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	store := atlas.NewStore(cfg.MapDir(), logger)
	eval := scripting.NewEvaluator(cfg.Scripting.InstructionLimit, logger)
	defer eval.Close()
	finder := pathfind.New(store, eval, logger)

	loadStart := time.Now()
	if err := store.Load(); err != nil {
		logger.Fatal("loading map database", zap.Error(err))
	}
	logger.Info("map database ready",
		zap.Int("rooms", store.Count()),
		zap.Duration("elapsed", time.Since(loadStart)),
	)

	switch args[0] {
	case "check":
		runCheck(store)
	case "convert":
		if len(args) != 2 {
			flag.Usage()
			os.Exit(2)
		}
		if err := store.Save(args[1]); err != nil {
			logger.Fatal("saving map database", zap.Error(err))
		}
		fmt.Printf("wrote %d rooms to %s\n", store.Count(), args[1])
	case "path":
		if len(args) != 3 {
			flag.Usage()
			os.Exit(2)
		}
		runPath(store, finder, eval, args[1], args[2])
	case "nearest":
		if len(args) != 3 {
			flag.Usage()
			os.Exit(2)
		}
		runNearest(store, finder, args[1], args[2])
	default:
		flag.Usage()
		os.Exit(2)
	}
}

// runCheck reports room counts and dangling exit targets.
func runCheck(store *atlas.Store) {
	dangling := 0
	deferred := 0
	store.ForEach(func(r *atlas.Room) bool {
		for key, way := range r.WayTo {
			if way.IsDeferred() {
				deferred++
			}
			id, err := strconv.Atoi(key)
			if err != nil {
				dangling++
				fmt.Printf("room %d: exit target %q is not a room id\n", r.ID, key)
				continue
			}
			if _, ok := store.LookupByID(id); !ok {
				dangling++
				fmt.Printf("room %d: exit targets unknown room %d\n", r.ID, id)
			}
		}
		return true
	})
	fmt.Printf("%d rooms, %d deferred exits, %d dangling exit targets\n",
		store.Count(), deferred, dangling)
	if dangling > 0 {
		os.Exit(1)
	}
}

// runPath prints the route between two room references with its movement
// commands and estimated travel time.
func runPath(store *atlas.Store, finder *pathfind.Finder, eval atlas.Evaluator, fromRef, toRef string) {
	from := mustResolve(store, fromRef)
	to := mustResolve(store, toRef)

	path, ok := finder.PathTo(from.ID, to.ID)
	if !ok {
		fmt.Printf("no path from %d to %d\n", from.ID, to.ID)
		os.Exit(1)
	}

	full := append([]int{from.ID}, path...)
	prev := from
	for _, id := range path {
		room, _ := store.LookupByID(id)
		way, _ := prev.WayToID(id)
		cmd, err := way.Command(eval)
		if err != nil {
			cmd = "<deferred: " + way.Expr + ">"
		}
		fmt.Printf("%6d  %s\n", id, cmd)
		prev = room
	}
	fmt.Printf("%d moves, about %.1fs\n", len(path), finder.EstimateTime(full))
}

// runNearest prints the closest room carrying a tag.
func runNearest(store *atlas.Store, finder *pathfind.Finder, fromRef, tag string) {
	from := mustResolve(store, fromRef)
	id, ok := finder.FindNearestByTag(from.ID, tag)
	if !ok {
		fmt.Printf("no reachable room tagged %q from %d\n", tag, from.ID)
		os.Exit(1)
	}
	room, _ := store.LookupByID(id)
	title := ""
	if len(room.Title) > 0 {
		title = room.Title[0]
	}
	fmt.Printf("%d  %s\n", id, title)
}

// mustResolve resolves a room reference or exits with an error message.
func mustResolve(store *atlas.Store, ref string) *atlas.Room {
	room, ok := store.LookupByText(ref)
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown room %q\n", ref)
		os.Exit(1)
	}
	return room
}
