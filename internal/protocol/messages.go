package protocol

// HostMsg is the closed set of host -> sim messages.
type HostMsg interface {
	hostMsg()
	Kind() string
}

// SimMsg is the closed set of sim -> host messages.
type SimMsg interface {
	simMsg()
	Kind() string
}

// boot (host -> sim)
type BootMsg struct {
	T       string `json:"t" jsonschema:"enum=boot"`
	Version int    `json:"version"`
	Seed    uint64 `json:"seed"`

	// Profile selects the saved state to resume, when a store is attached.
	Profile string `json:"profile,omitempty"`
}

type StartMsg struct {
	T    string `json:"t" jsonschema:"enum=start"`
	Mode string `json:"mode" jsonschema:"enum=fg,enum=bg"`
}

type StopMsg struct {
	T string `json:"t" jsonschema:"enum=stop"`
}

type SetModeMsg struct {
	T    string `json:"t" jsonschema:"enum=setMode"`
	Mode string `json:"mode" jsonschema:"enum=fg,enum=bg"`
}

// OfflineMsg carries minimum=0 through extras: zero is the reflector's
// omitted value for Minimum.
type OfflineMsg struct {
	T         string  `json:"t" jsonschema:"enum=offline"`
	ElapsedMs float64 `json:"elapsedMs" jsonschema_extras:"minimum=0"`
}

type AbilityMsg struct {
	T  string `json:"t" jsonschema:"enum=ability"`
	ID string `json:"id" jsonschema:"minLength=1"`
}

func (BootMsg) hostMsg()    {}
func (StartMsg) hostMsg()   {}
func (StopMsg) hostMsg()    {}
func (SetModeMsg) hostMsg() {}
func (OfflineMsg) hostMsg() {}
func (AbilityMsg) hostMsg() {}

func (BootMsg) Kind() string    { return TypeBoot }
func (StartMsg) Kind() string   { return TypeStart }
func (StopMsg) Kind() string    { return TypeStop }
func (SetModeMsg) Kind() string { return TypeSetMode }
func (OfflineMsg) Kind() string { return TypeOffline }
func (AbilityMsg) Kind() string { return TypeAbility }

// ready (sim -> host)
type ReadyMsg struct {
	T       string `json:"t" jsonschema:"enum=ready"`
	Version int    `json:"version"`

	// Resumed is set when boot restored a saved state.
	Resumed bool   `json:"resumed,omitempty"`
	Step    uint64 `json:"step,omitempty"`
}

type TickStats struct {
	Enemies  int     `json:"enemies"`
	Proj     int     `json:"proj"`
	Land     int     `json:"land,omitempty"`
	Ward     int     `json:"ward,omitempty"`
	Distance float64 `json:"distance,omitempty"`
	HPPct    float64 `json:"hpPct,omitempty"`
	Gold     string  `json:"gold,omitempty"`
	Arcana   string  `json:"arcana,omitempty"`
	Soul     string  `json:"soulPower,omitempty"`
	Kills    uint64  `json:"kills,omitempty"`
}

// TickMsg is sent once per fixed step. Now is simulated milliseconds since
// boot. Step and Checksum are set on snapshot steps.
type TickMsg struct {
	T        string    `json:"t" jsonschema:"enum=tick"`
	Now      float64   `json:"now"`
	DtMs     float64   `json:"dtMs"`
	Mode     string    `json:"mode" jsonschema:"enum=fg,enum=bg"`
	Stats    TickStats `json:"stats"`
	Step     uint64    `json:"step,omitempty"`
	Checksum string    `json:"checksum,omitempty"`
}

// BgCoveredMsg reports how much requested time a catch-up covered. Partial
// is set when part of it was fast-forwarded instead of stepped.
type BgCoveredMsg struct {
	T              string  `json:"t" jsonschema:"enum=bgCovered"`
	CoveredMs      float64 `json:"coveredMs"`
	RequestedMs    float64 `json:"requestedMs,omitempty"`
	SimulatedMs    float64 `json:"simulatedMs,omitempty"`
	ApproximatedMs float64 `json:"approximatedMs,omitempty"`
	Partial        bool    `json:"partial,omitempty"`
}

type LogMsg struct {
	T     string `json:"t" jsonschema:"enum=log"`
	Level string `json:"level" jsonschema:"enum=info,enum=warn,enum=error"`
	Msg   string `json:"msg"`
}

type FatalMsg struct {
	T      string `json:"t" jsonschema:"enum=fatal"`
	Reason string `json:"reason"`
}

type IntegrityErrorMsg struct {
	T      string `json:"t" jsonschema:"enum=integrityError"`
	Reason string `json:"reason"`
}

func (ReadyMsg) simMsg()          {}
func (TickMsg) simMsg()           {}
func (BgCoveredMsg) simMsg()      {}
func (LogMsg) simMsg()            {}
func (FatalMsg) simMsg()          {}
func (IntegrityErrorMsg) simMsg() {}

func (ReadyMsg) Kind() string          { return TypeReady }
func (TickMsg) Kind() string           { return TypeTick }
func (BgCoveredMsg) Kind() string      { return TypeBgCovered }
func (LogMsg) Kind() string            { return TypeLog }
func (FatalMsg) Kind() string          { return TypeFatal }
func (IntegrityErrorMsg) Kind() string { return TypeIntegrityError }

// Constructors fill in the discriminator.

func Ready(version int) ReadyMsg { return ReadyMsg{T: TypeReady, Version: version} }

func Log(level, msg string) LogMsg { return LogMsg{T: TypeLog, Level: level, Msg: msg} }

func Fatal(reason string) FatalMsg { return FatalMsg{T: TypeFatal, Reason: reason} }

func IntegrityError(reason string) IntegrityErrorMsg {
	return IntegrityErrorMsg{T: TypeIntegrityError, Reason: reason}
}
