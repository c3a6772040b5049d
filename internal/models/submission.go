package models

// SaveMode selects how much the simulation server records per round.
type SaveMode uint8

const (
	SaveModeFull           SaveMode = 0
	SaveModeStandard       SaveMode = 1
	SaveModeStandardLight  SaveMode = 2
	SaveModeRoundless      SaveMode = 4
	SaveModeAgentlessTyped SaveMode = 5
	SaveModeAgentless      SaveMode = 7
	SaveModePerformance    SaveMode = 8
	SaveModeDebug          SaveMode = 9
)

// SilenceStrategy decides when an agent stops expressing its belief.
type SilenceStrategy uint8

const (
	StrategyDeGroot    SilenceStrategy = 0
	StrategyMajority   SilenceStrategy = 1
	StrategyThreshold  SilenceStrategy = 2
	StrategyConfidence SilenceStrategy = 3
)

// SilenceEffect decides how a silent agent's neighbours treat it.
type SilenceEffect uint8

const (
	EffectDeGroot    SilenceEffect = 0
	EffectMemory     SilenceEffect = 1
	EffectMemoryless SilenceEffect = 2
)

// CognitiveBias is applied to an edge of the influence network.
type CognitiveBias uint8

const (
	BiasDeGroot      CognitiveBias = 0
	BiasConfirmation CognitiveBias = 1
	BiasBackfire     CognitiveBias = 2
	BiasAuthority    CognitiveBias = 3
	BiasInsular      CognitiveBias = 4
)

// AgentTypeConfig assigns Count generated agents one strategy/effect pair.
type AgentTypeConfig struct {
	Count    int32           `json:"count" validate:"gte=0"`
	Strategy SilenceStrategy `json:"strategy" validate:"lte=3"`
	Effect   SilenceEffect   `json:"effect" validate:"lte=2"`
}

// BiasConfig assigns Count generated edges one cognitive bias.
type BiasConfig struct {
	Count int32         `json:"count" validate:"gte=0"`
	Bias  CognitiveBias `json:"bias" validate:"lte=4"`
}

// RunConfig is the standard, generated-network simulation request sent
// to the server's /run endpoint.
type RunConfig struct {
	SaveMode                 SaveMode          `json:"saveMode" validate:"savemode"`
	NumNetworks              int32             `json:"numNetworks" validate:"gt=0"`
	Density                  int32             `json:"density" validate:"gte=0"`
	IterationLimit           int32             `json:"iterationLimit" validate:"gt=0"`
	StopThreshold            float32           `json:"stopThreshold" validate:"gte=0"`
	Seed                     *int64            `json:"seed,omitempty"`
	ThresholdValue           float32           `json:"thresholdValue"`
	ConfidenceThresholdValue float32           `json:"confidenceThresholdValue"`
	OpenMindedness           int32             `json:"openMindedness"`
	AgentConfigs             []AgentTypeConfig `json:"agentConfigs" validate:"max=127,dive"`
	BiasConfigs              []BiasConfig      `json:"biasConfigs" validate:"max=127,dive"`
}

// CustomAgent is one hand-specified agent of a custom network.
type CustomAgent struct {
	Name            string          `json:"name" validate:"required,namelen"`
	InitialBelief   float32         `json:"initialBelief" validate:"gte=0,lte=1"`
	ToleranceRadius float32         `json:"toleranceRadius" validate:"gte=0"`
	ToleranceOffset float32         `json:"toleranceOffset"`
	SilenceStrategy SilenceStrategy `json:"silenceStrategy" validate:"lte=3"`
	SilenceEffect   SilenceEffect   `json:"silenceEffect" validate:"lte=2"`
	ThresholdValue  *float32        `json:"thresholdValue,omitempty"`
	ConfidenceValue *float32        `json:"confidenceValue,omitempty"`
	UpdateValue     *float32        `json:"updateValue,omitempty"`
}

// Neighbor is a directed influence edge between two named agents.
type Neighbor struct {
	Source    string        `json:"source" validate:"required,namelen"`
	Target    string        `json:"target" validate:"required,namelen,nefield=Source"`
	Influence float32       `json:"influence"`
	Bias      CognitiveBias `json:"bias" validate:"lte=4"`
}

// CustomNetworkConfig is the hand-built network request sent to the
// server's /custom endpoint.
type CustomNetworkConfig struct {
	NetworkName    string        `json:"networkName" validate:"required,namelen"`
	StopThreshold  float32       `json:"stopThreshold" validate:"gte=0"`
	IterationLimit uint32        `json:"iterationLimit" validate:"gt=0"`
	SaveMode       SaveMode      `json:"saveMode" validate:"savemode"`
	Agents         []CustomAgent `json:"agents" validate:"required,min=1,dive"`
	Neighbors      []Neighbor    `json:"neighbors" validate:"dive"`
}
