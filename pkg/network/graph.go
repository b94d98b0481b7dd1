package network

import (
	"fmt"
	"strconv"

	"github.com/katalvlaran/lvlath/bfs"
	"github.com/katalvlaran/lvlath/core"
)

// checkConnected walks the bus graph of in-service branches from the slack
// bus; every bus must be reached.
func checkConnected(n *Network) error {
	g := core.NewGraph()

	for _, bus := range n.buses {
		if err := g.AddVertex(vertexID(bus.ID)); err != nil {
			return fmt.Errorf("building bus graph: %w", err)
		}
	}

	for _, br := range n.branches {
		if !br.InService {
			continue
		}
		from, to := vertexID(br.From), vertexID(br.To)
		if g.HasEdge(from, to) {
			continue // parallel branch
		}
		if _, err := g.AddEdge(from, to, 0); err != nil {
			return fmt.Errorf("building bus graph: %w", err)
		}
	}

	slackID := n.buses[n.slack].ID
	res, err := bfs.BFS(g, vertexID(slackID))
	if err != nil {
		return fmt.Errorf("walking bus graph: %w", err)
	}

	if len(res.Depth) == len(n.buses) {
		return nil
	}

	for _, bus := range n.buses {
		if _, reached := res.Depth[vertexID(bus.ID)]; !reached {
			return invalid(KindDisconnected, "bus %d is not reachable from slack bus %d", bus.ID, slackID)
		}
	}

	return nil
}

func vertexID(busID int) string {
	return strconv.Itoa(busID)
}
