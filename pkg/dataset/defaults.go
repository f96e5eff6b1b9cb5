package dataset

// Default animation indexes.
const (
	faceRed = iota
	faceGreen
	faceBlue
	allRed
	allGreen
	allBlue
)

const (
	defaultDuration = 1000
	topFaceMask     = 0x80000
)

// Defaults returns the built-in data set programmed whenever the stored one
// fails validation: single-face and all-face flashes in red, green and blue,
// and one behavior reacting to hello, connection, rolling and landing.
func Defaults() Image {
	b := NewBuilder()

	for i := 0; i < 3; i++ {
		b.AddAnimation(Simple{
			DurationMs: defaultDuration,
			FaceMask:   topFaceMask,
			Color:      Color(0xFF0000 >> (i * 8)),
			Count:      1,
			Fade:       255,
		})
	}
	for i := 0; i < 3; i++ {
		b.AddAnimation(Simple{
			DurationMs: defaultDuration,
			FaceMask:   AllFaces,
			Color:      Color(0xFF0000 >> (i * 8)),
			Count:      2,
			Fade:       255,
		})
	}

	hello := b.AddCondition(HelloGoodbye{Flags: Hello})
	conn := b.AddCondition(ConnectionState{Flags: Connected | Disconnected})
	rolling := b.AddCondition(Rolling{})
	landed := b.AddCondition(FaceCompare{FaceIndex: 0, Flags: FaceEqual | FaceGreater})

	greet := b.AddAction(PlayAnimation{AnimIndex: allGreen, LoopCount: 1})
	link := b.AddAction(PlayAnimation{AnimIndex: allBlue, LoopCount: 1})
	roll := b.AddAction(PlayAnimation{AnimIndex: faceRed, FaceIndex: CurrentFace, LoopCount: 1})
	land := b.AddAction(PlayAnimation{AnimIndex: faceRed, FaceIndex: CurrentFace, LoopCount: 1})

	b.AddRule(hello, greet)
	b.AddRule(conn, link)
	b.AddRule(rolling, roll)
	b.AddRule(landed, land)
	b.AddBehavior(0, 4)

	img, err := b.Build()
	if err != nil {
		panic("dataset: default data set does not build: " + err.Error())
	}
	return img
}
