package graph

import "slices"

// ShortestPath returns a minimum-hop path from start to end using breadth-first search.
func (g *Index) ShortestPath(start, end string) ([]string, error) {
	from, to, err := g.resolve(start, end)
	if err != nil {
		return nil, err
	}

	visited := make([]bool, len(g.adjacency))
	prev := make([]int, len(g.adjacency))
	visited[from] = true
	prev[from] = -1

	queue := []int{from}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if node == to {
			return g.walkBack(prev, to), nil
		}
		for _, next := range g.adjacency[node] {
			if visited[next] {
				continue
			}
			visited[next] = true
			prev[next] = node
			queue = append(queue, next)
		}
	}
	return nil, ErrNoPath
}

// AnyPath returns some path from start to end using depth-first search. Neighbors are pushed
// in adjacency order and marked when pushed, so the last-listed neighbor is explored first.
func (g *Index) AnyPath(start, end string) ([]string, error) {
	from, to, err := g.resolve(start, end)
	if err != nil {
		return nil, err
	}

	visited := make([]bool, len(g.adjacency))
	prev := make([]int, len(g.adjacency))
	visited[from] = true
	prev[from] = -1

	stack := []int{from}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if node == to {
			return g.walkBack(prev, to), nil
		}
		for _, next := range g.adjacency[node] {
			if visited[next] {
				continue
			}
			visited[next] = true
			prev[next] = node
			stack = append(stack, next)
		}
	}
	return nil, ErrNoPath
}

func (g *Index) resolve(start, end string) (int, int, error) {
	from, ok := g.ids[start]
	if !ok {
		return 0, 0, ErrUnknownTitle
	}
	to, ok := g.ids[end]
	if !ok {
		return 0, 0, ErrUnknownTitle
	}
	return from, to, nil
}

func (g *Index) walkBack(prev []int, to int) []string {
	var path []string
	for node := to; node != -1; node = prev[node] {
		path = append(path, g.titles[node])
	}
	slices.Reverse(path)
	return path
}
