package untis

// ElementType is the numeric element kind used by getTimetable.
type ElementType int

const (
	ElementClass   ElementType = 1
	ElementTeacher ElementType = 2
	ElementSubject ElementType = 3
	ElementRoom    ElementType = 4
	ElementStudent ElementType = 5
)

func (t ElementType) String() string {
	switch t {
	case ElementClass:
		return "class"
	case ElementTeacher:
		return "teacher"
	case ElementSubject:
		return "subject"
	case ElementRoom:
		return "room"
	case ElementStudent:
		return "student"
	default:
		return "unknown"
	}
}

// Credentials identify an account on a WebUntis host.
type Credentials struct {
	School   string
	Username string
	Password string
	// Host is the bare server name, e.g. "mese.webuntis.com".
	Host string
}

// Session is an authenticated handle returned by Login. Callers treat it as
// opaque and hand it back to the Client.
type Session struct {
	ID         string
	PersonType ElementType
	PersonID   int

	school string
	host   string
}

// NewSession builds a handle from parts. Only fakes and tests need this;
// real sessions come from Client.Login.
func NewSession(id string, personType ElementType, personID int) *Session {
	return &Session{ID: id, PersonType: personType, PersonID: personID}
}

// ElementRef is a reference to a class, teacher, subject or room inside a
// timetable entry.
type ElementRef struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	LongName string `json:"longname"`
	OrgName  string `json:"orgname,omitempty"`
}

// RawEntry is a timetable period as returned by getTimetable.
type RawEntry struct {
	ID           int          `json:"id"`
	Date         int          `json:"date"`      // YYYYMMDD
	StartTime    int          `json:"startTime"` // HHMM
	EndTime      int          `json:"endTime"`   // HHMM
	Classes      []ElementRef `json:"kl"`
	Teachers     []ElementRef `json:"te"`
	Subjects     []ElementRef `json:"su"`
	Rooms        []ElementRef `json:"ro"`
	LsText       string       `json:"lstext,omitempty"`
	Code         string       `json:"code,omitempty"` // "", "cancelled" or "irregular"
	ActivityType string       `json:"activityType,omitempty"`
}

// CatalogItem is one class, room, teacher or subject from the master data.
type CatalogItem struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	LongName string `json:"longName"`
}

// TimeUnit is one period slot of the time grid.
type TimeUnit struct {
	Name      string `json:"name"`
	StartTime int    `json:"startTime"`
	EndTime   int    `json:"endTime"`
}

// TimeGridDay is the time grid for one weekday (1 = Sunday).
type TimeGridDay struct {
	Day       int        `json:"day"`
	TimeUnits []TimeUnit `json:"timeUnits"`
}

type schoolYear struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	StartDate int    `json:"startDate"`
	EndDate   int    `json:"endDate"`
}
