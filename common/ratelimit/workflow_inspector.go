package ratelimit

// WorkflowTier represents the rate limit tier based on workflow complexity
type WorkflowTier string

const (
	TierSimple   WorkflowTier = "simple"   // No heavy nodes
	TierStandard WorkflowTier = "standard" // 1-2 heavy nodes
	TierHeavy    WorkflowTier = "heavy"    // 3+ heavy nodes
)

// heavyNodeKinds are the node kinds whose execution delegates to an
// external process or a nested workflow run (compiled-native/script-file
// binaries, subflow and container nested graphs) rather than completing
// inline within the supervisor goroutine. These are what actually drive
// resource pressure on the engine, so they — not total node count — set
// the rate limit tier.
var heavyNodeKinds = map[string]bool{
	"compiled-native": true,
	"script-file":     true,
	"subflow":         true,
	"container":       true,
}

// WorkflowProfile contains analysis of a workflow's complexity
type WorkflowProfile struct {
	Tier           WorkflowTier // Determined tier
	HeavyNodeCount int          // Number of heavy (externally-delegating) nodes
	HasHeavyNodes  bool         // Whether workflow has any heavy nodes
	TotalNodes     int          // Total node count
}

// InspectWorkflow analyzes a workflow and determines its complexity tier
func InspectWorkflow(workflow map[string]interface{}) WorkflowProfile {
	profile := WorkflowProfile{
		Tier:           TierSimple,
		HeavyNodeCount: 0,
		HasHeavyNodes:  false,
		TotalNodes:     0,
	}

	// Get nodes (handles both array and map formats)
	nodes := workflow["nodes"]

	if nodesList, ok := nodes.([]interface{}); ok {
		// Workflow schema format: nodes is an array
		profile.TotalNodes = len(nodesList)

		for _, nodeInterface := range nodesList {
			node, ok := nodeInterface.(map[string]interface{})
			if !ok {
				continue
			}

			nodeType, _ := node["type"].(string)
			if heavyNodeKinds[nodeType] {
				profile.HeavyNodeCount++
				profile.HasHeavyNodes = true
			}
		}
	} else if nodesMap, ok := nodes.(map[string]interface{}); ok {
		// IR format: nodes is a map[nodeID]Node
		profile.TotalNodes = len(nodesMap)

		for _, nodeInterface := range nodesMap {
			node, ok := nodeInterface.(map[string]interface{})
			if !ok {
				continue
			}

			nodeType, _ := node["type"].(string)
			if heavyNodeKinds[nodeType] {
				profile.HeavyNodeCount++
				profile.HasHeavyNodes = true
			}
		}
	}

	// Determine tier based on heavy node count
	profile.Tier = determineTier(profile.HeavyNodeCount)

	return profile
}

// determineTier returns the appropriate tier based on heavy node count
func determineTier(heavyNodeCount int) WorkflowTier {
	switch {
	case heavyNodeCount == 0:
		return TierSimple
	case heavyNodeCount <= 2:
		return TierStandard
	default: // 3+
		return TierHeavy
	}
}

// String returns a human-readable description of the tier
func (t WorkflowTier) String() string {
	switch t {
	case TierSimple:
		return "simple"
	case TierStandard:
		return "standard"
	case TierHeavy:
		return "heavy"
	default:
		return "unknown"
	}
}
