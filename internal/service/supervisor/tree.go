package supervisor

import (
	"fmt"
	"slices"

	"github.com/mitchellh/go-ps"
)

// descendants returns the pids of every process below root, deepest first,
// so that children can be terminated before their parents.
func descendants(root int) ([]int, error) {
	processList, err := ps.Processes()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	children := make(map[int][]int, len(processList))

	for _, process := range processList {
		if process.Pid() == process.PPid() {
			continue
		}

		children[process.PPid()] = append(children[process.PPid()], process.Pid())
	}

	var (
		order   []int
		queue   = []int{root}
		visited = map[int]bool{root: true}
	)

	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]

		for _, child := range children[parent] {
			if visited[child] {
				continue
			}

			visited[child] = true
			order = append(order, child)
			queue = append(queue, child)
		}
	}

	slices.Reverse(order)

	return order, nil
}
