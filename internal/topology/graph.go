package topology

import "fmt"

// buildOrder computes a leaves-first build order: a component is only
// listed once every component it sends to has already been listed. Sinks
// (empty SendsTo) are the graph's leaves and come first, so a running
// consumer is always in place before its upstream producer starts — the
// same "bring up dependents before dependencies" discipline the teacher's
// main.go follows by constructing the API server and pool manager before
// starting providers.
func buildOrder(specs []ComponentSpec) ([]ComponentKey, error) {
	byKey := make(map[ComponentKey]ComponentSpec, len(specs))
	for _, s := range specs {
		if _, dup := byKey[s.Key]; dup {
			return nil, fmt.Errorf("topology: duplicate component key %q", s.Key)
		}
		byKey[s.Key] = s
	}
	for _, s := range specs {
		for _, target := range s.SendsTo {
			if _, ok := byKey[target]; !ok {
				return nil, fmt.Errorf("topology: component %q sends to unknown component %q", s.Key, target)
			}
		}
	}

	built := make(map[ComponentKey]bool, len(specs))
	var order []ComponentKey
	for len(order) < len(specs) {
		progressed := false
		for _, s := range specs {
			if built[s.Key] {
				continue
			}
			ready := true
			for _, target := range s.SendsTo {
				if !built[target] {
					ready = false
					break
				}
			}
			if !ready {
				continue
			}
			order = append(order, s.Key)
			built[s.Key] = true
			progressed = true
		}
		if !progressed {
			return nil, fmt.Errorf("topology: dependency cycle detected among unbuilt components")
		}
	}
	return order, nil
}
