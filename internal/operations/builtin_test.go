package operations

import (
	"cohortq/internal/executors"
	"cohortq/internal/metadata"
	"reflect"
	"strings"
	"testing"
)

func TestParseParams(t *testing.T) {
	got, err := ParseParams([]string{"guid=g1", " type = Asset ", "property.owner=ops=team", "guid=g2"})
	if err != nil {
		t.Fatalf("ParseParams error: %v", err)
	}
	want := map[string]string{"guid": "g2", "type": "Asset", "property.owner": "ops=team"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ParseParams = %v, want %v", got, want)
	}

	for _, bad := range []string{"guid", "=g1", ""} {
		if _, err := ParseParams([]string{bad}); err == nil {
			t.Errorf("ParseParams(%q) want error", bad)
		}
	}
}

func TestGetEntityBuild(t *testing.T) {
	op, err := Resolve(metadata.OpGetEntity)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	req, exec, err := op.Build(map[string]string{"guid": " g1 "}, Settings{UserID: "auditor"})
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	if got := req.(metadata.GetEntityRequest); got.GUID != "g1" || got.UserID != "auditor" {
		t.Fatalf("unexpected request %#v", got)
	}
	if !exec.Policy().FirstResponderWins {
		t.Fatalf("sequential get-entity should be first-responder-wins")
	}

	_, exec, err = op.Build(map[string]string{"guid": "g1"}, Settings{Parallel: true, Strict: true})
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	if p := exec.Policy(); p.FirstResponderWins || !p.Strict {
		t.Fatalf("parallel strict get-entity policy = %+v", p)
	}
	if _, ok := exec.(*executors.GetEntity); !ok {
		t.Fatalf("unexpected executor %T", exec)
	}
}

func TestFindEntitiesBuild(t *testing.T) {
	op, _ := Resolve(metadata.OpFindEntities)
	req, exec, err := op.Build(map[string]string{
		"type":           "Asset",
		"property.owner": "ops",
		"property.zone":  "eu",
		"match-all":      "true",
		"from":           "10",
		"size":           "5",
	}, Settings{MaxPageSize: 50})
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}

	got := req.(metadata.FindEntitiesRequest)
	want := metadata.FindEntitiesRequest{
		TypeName:   "Asset",
		Properties: map[string]string{"owner": "ops", "zone": "eu"},
		MatchAll:   true,
		Paging:     metadata.Paging{FromIndex: 10, PageSize: 5},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("request = %#v, want %#v", got, want)
	}
	if exec.Policy().FirstResponderWins {
		t.Fatalf("find-entities must be order independent")
	}
}

func TestGetRelationshipsBuild(t *testing.T) {
	op, _ := Resolve(metadata.OpGetRelationships)
	req, _, err := op.Build(map[string]string{"guid": "g1", "type": "Owns"}, Settings{})
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	if got := req.(metadata.GetRelationshipsRequest); got.EntityGUID != "g1" || got.TypeName != "Owns" {
		t.Fatalf("unexpected request %#v", got)
	}
}

func TestBuildRejectsBadParams(t *testing.T) {
	tests := []struct {
		op      string
		params  map[string]string
		wantErr string
	}{
		{metadata.OpGetEntity, map[string]string{}, `requires parameter "guid"`},
		{metadata.OpGetEntity, map[string]string{"guid": "g1", "color": "red"}, `unknown parameter "color"`},
		{metadata.OpFindEntities, map[string]string{}, "at least a type name or one property"},
		{metadata.OpFindEntities, map[string]string{"property.": "x"}, `unknown parameter "property."`},
		{metadata.OpFindEntities, map[string]string{"type": "Asset", "match-all": "maybe"}, "must be true or false"},
		{metadata.OpFindEntities, map[string]string{"type": "Asset", "size": "many"}, "must be an integer"},
		{metadata.OpFindEntities, map[string]string{"type": "Asset", "size": "5000"}, "exceeds the maximum"},
		{metadata.OpGetRelationships, map[string]string{"guid": "g1", "from": "-1"}, "fromIndex must be >= 0"},
	}
	for _, tt := range tests {
		t.Run(tt.op+"/"+tt.wantErr, func(t *testing.T) {
			op, err := Resolve(tt.op)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			_, _, err = op.Build(tt.params, Settings{})
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Build error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestEveryOperationDocumentsItself(t *testing.T) {
	for _, op := range List() {
		if op.Title() == "" || op.Description() == "" {
			t.Errorf("%s lacks a title or description", op.ID())
		}
		if s := op.DefaultStrategy(); s != "sequential" && s != "parallel" {
			t.Errorf("%s has default strategy %q", op.ID(), s)
		}
	}
}
