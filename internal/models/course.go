package models

// Course describes a catalog course offered by a department.
type Course struct {
	ID           string `db:"id" json:"id"`
	Code         string `db:"code" json:"code"`
	Title        string `db:"title" json:"title"`
	Credits      int    `db:"credits" json:"credits"`
	DepartmentID string `db:"department_id" json:"department_id"`
	Level        int    `db:"level" json:"level"`
}

// CoursePrereq links a course to one of its requirement courses. The
// registration core only surfaces that requirements exist; transcript
// verification belongs to advising.
type CoursePrereq struct {
	CourseID    string `db:"course_id" json:"course_id"`
	ReqCourseID string `db:"req_course_id" json:"req_course_id"`
	ReqCode     string `db:"req_code" json:"req_code"`
	Type        string `db:"type" json:"type"`
}
