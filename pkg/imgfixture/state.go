package imgfixture

// State is a step in building an image tarball. A build moves through the
// states in declaration order, or to Failed.
type State int

const (
	Init State = iota
	DirsCreated
	ManifestsWritten
	RootfsPopulated
	LayerArchived
	RootfsRemoved
	VersionWritten
	ImageArchived
	ImageDirRemoved
	Done
	Failed
)

// stateToString has string representations for all states.
var stateToString = map[State]string{
	Init:             "Init",
	DirsCreated:      "DirsCreated",
	ManifestsWritten: "ManifestsWritten",
	RootfsPopulated:  "RootfsPopulated",
	LayerArchived:    "LayerArchived",
	RootfsRemoved:    "RootfsRemoved",
	VersionWritten:   "VersionWritten",
	ImageArchived:    "ImageArchived",
	ImageDirRemoved:  "ImageDirRemoved",
	Done:             "Done",
	Failed:           "Failed",
}

func (s State) String() string {
	if str, ok := stateToString[s]; ok {
		return str
	}
	return "Undefined"
}
