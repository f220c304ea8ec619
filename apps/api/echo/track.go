package echoapi

import (
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/ahmed-matloob-prog/skill-lab-web-sub005/core/track"
)

type trackApi struct {
	svc      *track.Service
	validate *validator.Validate
}

func registerTrackAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := trackApi{
		svc:      deps.TrackSvc,
		validate: deps.Validate,
	}

	// every tracking endpoint requires a trainer or admin token
	sg := g.Group("/students", jwt, trainerMiddleware())
	sg.GET("", api.queryStudents)
	sg.POST("", api.createStudent)
	sg.GET("/:id", api.retrieveStudent)
	sg.PUT("/:id", api.updateStudent)
	sg.DELETE("/:id", api.destroyStudent, adminMiddleware())

	gg := g.Group("/groups", jwt, trainerMiddleware())
	gg.GET("", api.queryGroups)
	gg.GET("/:id", api.retrieveGroup)
	gg.GET("/:id/students", api.queryGroupStudents)
	gg.POST("", api.createGroup, adminMiddleware())
	gg.PUT("/:id", api.updateGroup, adminMiddleware())
	gg.DELETE("/:id", api.destroyGroup, adminMiddleware())

	at := g.Group("/attendance", jwt, trainerMiddleware())
	at.GET("", api.queryAttendance)
	at.POST("", api.recordAttendance)
	at.PUT("/:id", api.updateAttendance)

	as := g.Group("/assessments", jwt, trainerMiddleware())
	as.GET("", api.queryAssessments)
	as.POST("", api.recordAssessment)
	as.PUT("/:id", api.updateAssessment)

	sy := g.Group("/sync", jwt, trainerMiddleware())
	sy.GET("/state", api.syncState)
	sy.POST("/refresh", api.refresh)
	sy.POST("/full-load", api.loadFullData)
	sy.POST("/retry", api.retryUnsynced)
	sy.POST("/backfill", api.backfill, adminMiddleware())
}

func yearParam(ctx echo.Context) (track.Year, bool, error) {
	raw := ctx.QueryParam("year")
	if raw == "" {
		return 0, false, nil
	}
	y, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, echo.NewHTTPError(http.StatusBadRequest, "invalid year")
	}
	return track.Year(y), true, nil
}

// Students

func (api *trackApi) queryStudents(ctx echo.Context) error {
	if groupID := ctx.QueryParam("group"); groupID != "" {
		return ctx.JSON(http.StatusOK, api.svc.StudentsByGroup(groupID))
	}
	if year, ok, err := yearParam(ctx); err != nil {
		return err
	} else if ok {
		return ctx.JSON(http.StatusOK, api.svc.StudentsByYear(year))
	}
	return ctx.JSON(http.StatusOK, api.svc.Students())
}

func (api *trackApi) createStudent(ctx echo.Context) error {
	var data track.NewStudent
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewStudent")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	st, err := api.svc.AddStudent(data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, st)
}

func (api *trackApi) retrieveStudent(ctx echo.Context) error {
	st, err := api.svc.StudentByID(ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, st)
}

func (api *trackApi) updateStudent(ctx echo.Context) error {
	var data track.StudentUpdate
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to StudentUpdate")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	st, err := api.svc.UpdateStudent(ctx.Param("id"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, st)
}

func (api *trackApi) destroyStudent(ctx echo.Context) error {
	if err := api.svc.DeleteStudent(ctx.Param("id")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Groups

func (api *trackApi) queryGroups(ctx echo.Context) error {
	if year, ok, err := yearParam(ctx); err != nil {
		return err
	} else if ok {
		return ctx.JSON(http.StatusOK, api.svc.GroupsByYear(year))
	}
	return ctx.JSON(http.StatusOK, api.svc.Groups())
}

func (api *trackApi) retrieveGroup(ctx echo.Context) error {
	grp, err := api.svc.GroupByID(ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, grp)
}

func (api *trackApi) queryGroupStudents(ctx echo.Context) error {
	if _, err := api.svc.GroupByID(ctx.Param("id")); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, api.svc.StudentsByGroup(ctx.Param("id")))
}

func (api *trackApi) createGroup(ctx echo.Context) error {
	var data track.NewGroup
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewGroup")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	grp, err := api.svc.AddGroup(data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, grp)
}

func (api *trackApi) updateGroup(ctx echo.Context) error {
	var data track.GroupUpdate
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to GroupUpdate")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	grp, err := api.svc.UpdateGroup(ctx.Param("id"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, grp)
}

func (api *trackApi) destroyGroup(ctx echo.Context) error {
	if err := api.svc.DeleteGroup(ctx.Param("id")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Attendance

func (api *trackApi) queryAttendance(ctx echo.Context) error {
	switch {
	case ctx.QueryParam("unsynced") == "true":
		return ctx.JSON(http.StatusOK, api.svc.UnsyncedAttendance())
	case ctx.QueryParam("student") != "":
		return ctx.JSON(http.StatusOK, api.svc.AttendanceByStudent(ctx.QueryParam("student")))
	case ctx.QueryParam("date") != "":
		return ctx.JSON(http.StatusOK, api.svc.AttendanceByDate(ctx.QueryParam("date")))
	case ctx.QueryParam("group") != "":
		return ctx.JSON(http.StatusOK, api.svc.AttendanceByGroup(ctx.QueryParam("group")))
	}
	return ctx.JSON(http.StatusOK, api.svc.Attendance())
}

func (api *trackApi) recordAttendance(ctx echo.Context) error {
	var data track.NewAttendance
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAttendance")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	rec, err := api.svc.RecordAttendance(data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, rec)
}

func (api *trackApi) updateAttendance(ctx echo.Context) error {
	var data track.AttendanceUpdate
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to AttendanceUpdate")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	rec, err := api.svc.UpdateAttendance(ctx.Param("id"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, rec)
}

// Assessments

func (api *trackApi) queryAssessments(ctx echo.Context) error {
	switch {
	case ctx.QueryParam("unsynced") == "true":
		return ctx.JSON(http.StatusOK, api.svc.UnsyncedAssessments())
	case ctx.QueryParam("student") != "":
		return ctx.JSON(http.StatusOK, api.svc.AssessmentsByStudent(ctx.QueryParam("student")))
	case ctx.QueryParam("week") != "":
		week, err := strconv.Atoi(ctx.QueryParam("week"))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid week")
		}
		return ctx.JSON(http.StatusOK, api.svc.AssessmentsByWeek(week))
	case ctx.QueryParam("group") != "":
		return ctx.JSON(http.StatusOK, api.svc.AssessmentsByGroup(ctx.QueryParam("group")))
	}
	return ctx.JSON(http.StatusOK, api.svc.Assessments())
}

func (api *trackApi) recordAssessment(ctx echo.Context) error {
	var data track.NewAssessment
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAssessment")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	rec, err := api.svc.RecordAssessment(data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, rec)
}

func (api *trackApi) updateAssessment(ctx echo.Context) error {
	var data track.AssessmentUpdate
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to AssessmentUpdate")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	rec, err := api.svc.UpdateAssessment(ctx.Param("id"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, rec)
}

// Sync

func (api *trackApi) syncState(ctx echo.Context) error {
	states := make(map[string]string, 4)
	for _, col := range []string{track.ColStudents, track.ColGroups, track.ColAttendance, track.ColAssessments} {
		states[col] = api.svc.State(col).String()
	}
	return ctx.JSON(http.StatusOK, StateResponse{States: states})
}

func (api *trackApi) refresh(ctx echo.Context) error {
	api.svc.Refresh(ctx.Request().Context())
	return ctx.NoContent(http.StatusAccepted)
}

func (api *trackApi) loadFullData(ctx echo.Context) error {
	api.svc.LoadFullData(ctx.Request().Context())
	return ctx.NoContent(http.StatusAccepted)
}

// retryUnsynced is the one explicitly remote-only action; without a remote
// store it fails instead of silently doing nothing.
func (api *trackApi) retryUnsynced(ctx echo.Context) error {
	if !api.svc.RemoteEnabled() {
		return errRemoteUnavailable
	}
	acked := api.svc.RetryUnsynced(ctx.Request().Context())
	return ctx.JSON(http.StatusOK, RetryResponse{Acked: acked})
}

func (api *trackApi) backfill(ctx echo.Context) error {
	api.svc.Backfill()
	return ctx.NoContent(http.StatusAccepted)
}
