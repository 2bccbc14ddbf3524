package export

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/migrator-io/migrator/internal/dataset"
	"github.com/migrator-io/migrator/internal/registry"
	"github.com/migrator-io/migrator/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const testRegistry = `
version: 1
import_order: [res.partner, crm.lead]
models:
  res.partner:
    csv: export_res_partner.csv
    id_template: "partner_{slug(email) or slug(name)}"
    headers: [id, name, email, phone, is_company]
    fields:
      id: {derived: true}
      name: {type: string, required: true}
      email: {type: email, transform: normalize_email}
      phone: {type: phone, transform: normalize_phone_us}
      is_company: {type: bool, transform: coerce_bool}
  crm.lead:
    csv: export_crm_lead.csv
    id_template: "lead_{slug(name)}"
    headers: [id, name, partner_id/id, stage_id/id, date_deadline]
    fields:
      id: {derived: true}
      name: {type: string, required: true}
      partner_id/id: {type: m2o, target: res.partner}
      stage_id/id: {type: enum, optional: true, transform: coerce_enum, map_from_seed: crm_stages}
      date_deadline: {type: date, transform: normalize_date_any}
seeds:
  crm_stages:
    canonical: [stage_won, stage_open]
    synonyms: {won: stage_won}
`

type fixture struct {
	svc          *Service
	store        *storage.InMemoryExceptionStore
	artifactRoot string
}

// newFixture wires a service over temp dirs: a registry file, a dataset
// directory of CSV sheets, and static mappings.
func newFixture(t *testing.T, registryDoc string, sheets map[string]string, mappings []*dataset.Mapping) *fixture {
	t.Helper()

	root := t.TempDir()

	registryPath := filepath.Join(root, "registry.yaml")
	require.NoError(t, os.WriteFile(registryPath, []byte(registryDoc), 0o600))

	datasetDir := filepath.Join(root, "datasets", "ds1")
	require.NoError(t, os.MkdirAll(datasetDir, 0o750))

	for sheet, content := range sheets {
		require.NoError(t, os.WriteFile(filepath.Join(datasetDir, sheet+".csv"), []byte(content), 0o600))
	}

	artifactRoot := filepath.Join(root, "out")
	store := storage.NewInMemoryExceptionStore()

	svc := NewService(
		registry.NewLoader(registryPath),
		store,
		dataset.NewDirRepository(filepath.Join(root, "datasets")),
		dataset.NewStaticMappings("ds1", mappings),
		artifactRoot,
		testLogger(),
	)

	return &fixture{svc: svc, store: store, artifactRoot: artifactRoot}
}

func confirmed(sheet, source, model, field string) *dataset.Mapping {
	return &dataset.Mapping{
		Sheet:        sheet,
		SourceColumn: source,
		TargetModel:  model,
		TargetField:  field,
		Status:       dataset.StatusConfirmed,
	}
}

func partnerMappings() []*dataset.Mapping {
	return []*dataset.Mapping{
		confirmed("contacts", "Full Name", "res.partner", "name"),
		confirmed("contacts", "Email Address", "res.partner", "email"),
	}
}

func leadMappings() []*dataset.Mapping {
	return []*dataset.Mapping{
		confirmed("leads", "Lead", "crm.lead", "name"),
		confirmed("leads", "Partner Ref", "crm.lead", "partner_id/id"),
		confirmed("leads", "Stage", "crm.lead", "stage_id/id"),
		confirmed("leads", "Deadline", "crm.lead", "date_deadline"),
	}
}

const contactsCSV = `source_ptr,Full Name,Email Address
r1,Acme Homes,info@acme.example
r2,Jane Doe,JANE@DOE.EXAMPLE
r3,Jane 2,jane@doe.example
r4,,x@y.z
`

const leadsCSV = `source_ptr,Lead,Partner Ref,Stage,Deadline
l1,Ghost Lead,partner_ghost,won,01/15/2024
l2,Real Lead,partner_info_acme_example,won,01/15/2024
l3,Bad Date,partner_info_acme_example,won,not-a-date
l4,Case Stage,partner_info_acme_example,WON,01/15/2024
`

func fullFixture(t *testing.T) *fixture {
	return newFixture(t,
		testRegistry,
		map[string]string{"contacts": contactsCSV, "leads": leadsCSV},
		append(partnerMappings(), leadMappings()...),
	)
}

// Party emit with email dedup plus a missing required name: the suffixed
// duplicate is still emitted, the invalid row is not.
func TestExportPartnerScenario(t *testing.T) {
	fx := newFixture(t,
		testRegistry,
		map[string]string{"contacts": contactsCSV},
		partnerMappings(),
	)

	result, err := fx.svc.Export(context.Background(), "ds1")
	require.NoError(t, err)

	require.Len(t, result.Models, 1)
	assert.Equal(t, "res.partner", result.Models[0].Model)
	assert.Equal(t, 3, result.Models[0].RowsEmitted)

	content, err := os.ReadFile(filepath.Join(fx.artifactRoot, "ds1", "export_res_partner.csv"))
	require.NoError(t, err)

	want := strings.Join([]string{
		"id,name,email,phone,is_company",
		"partner_info_acme_example,Acme Homes,info@acme.example,,",
		"partner_jane_doe_example,Jane Doe,jane@doe.example,,",
		"partner_jane_doe_example_2,Jane 2,jane@doe.example,,",
		"",
	}, "\n")
	assert.Equal(t, want, string(content))

	assert.Equal(t, 1, result.ExceptionsByCode[storage.CodeDupExtID])
	assert.Equal(t, 1, result.ExceptionsByCode[storage.CodeReqMissing])
	assert.Equal(t, 2, result.TotalExceptions)

	records, err := fx.store.List(context.Background(), "ds1", "res.partner")
	require.NoError(t, err)

	byPtr := map[string]string{}
	for _, rec := range records {
		byPtr[rec.RowPtr] = rec.ErrorCode
	}

	assert.Equal(t, storage.CodeDupExtID, byPtr["r3"])
	assert.Equal(t, storage.CodeReqMissing, byPtr["r4"])
}

// FK resolution: a lead referencing an unemitted partner is excluded, a
// lead referencing an emitted one goes through with its enum and date
// canonicalized.
func TestExportLeadFKAndNormalization(t *testing.T) {
	fx := fullFixture(t)

	result, err := fx.svc.Export(context.Background(), "ds1")
	require.NoError(t, err)

	require.Len(t, result.Models, 2)
	assert.Equal(t, "res.partner", result.Models[0].Model)
	assert.Equal(t, "crm.lead", result.Models[1].Model)
	assert.Equal(t, 1, result.Models[1].RowsEmitted)

	content, err := os.ReadFile(filepath.Join(fx.artifactRoot, "ds1", "export_crm_lead.csv"))
	require.NoError(t, err)

	want := strings.Join([]string{
		"id,name,partner_id/id,stage_id/id,date_deadline",
		"lead_real_lead,Real Lead,partner_info_acme_example,stage_won,2024-01-15",
		"",
	}, "\n")
	assert.Equal(t, want, string(content))

	assert.Equal(t, 1, result.ExceptionsByCode[storage.CodeFKUnresolved])
	assert.Equal(t, 1, result.ExceptionsByCode[storage.CodeDateParseFail])
	assert.Equal(t, 1, result.ExceptionsByCode[storage.CodeEnumUnknown], "WON is case-sensitive and unknown")

	records, err := fx.store.List(context.Background(), "ds1", "crm.lead")
	require.NoError(t, err)

	byPtr := map[string]string{}
	for _, rec := range records {
		byPtr[rec.RowPtr] = rec.ErrorCode
	}

	assert.Equal(t, storage.CodeFKUnresolved, byPtr["l1"])
	assert.Equal(t, storage.CodeDateParseFail, byPtr["l3"])
	assert.Equal(t, storage.CodeEnumUnknown, byPtr["l4"])
}

// The bundle contains the emitted CSVs at archive root, in import order.
func TestExportBundle(t *testing.T) {
	fx := fullFixture(t)

	result, err := fx.svc.Export(context.Background(), "ds1")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(fx.artifactRoot, "ds1", "odoo_export_ds1.zip"), result.ZipPath)

	zr, err := zip.OpenReader(result.ZipPath)
	require.NoError(t, err)

	defer func() {
		_ = zr.Close()
	}()

	var names []string
	for _, entry := range zr.File {
		names = append(names, entry.Name)
	}

	assert.Equal(t, []string{"export_res_partner.csv", "export_crm_lead.csv"}, names)
}

// Re-run determinism: every CSV and the ZIP hash identically across two
// independent runs.
func TestExportByteDeterminism(t *testing.T) {
	fx := fullFixture(t)
	ctx := context.Background()

	first, err := fx.svc.Export(ctx, "ds1")
	require.NoError(t, err)

	firstHashes := hashArtifacts(t, fx.artifactRoot)

	second, err := fx.svc.Export(ctx, "ds1")
	require.NoError(t, err)

	secondHashes := hashArtifacts(t, fx.artifactRoot)

	assert.Equal(t, firstHashes, secondHashes, "artifacts must be byte-identical across runs")
	assert.Equal(t, first.TotalEmitted, second.TotalEmitted)
	assert.Equal(t, first.ExceptionsByCode, second.ExceptionsByCode)

	// Exceptions were cleared and re-recorded, not accumulated.
	n, err := fx.store.Count(ctx, "ds1", "")
	require.NoError(t, err)
	assert.EqualValues(t, second.TotalExceptions, n)
}

// Every code of the closed taxonomy can be triggered exactly once by one
// crafted fixture.
func TestErrorCodeCoverage(t *testing.T) {
	contacts := `source_ptr,Name,Mail,Phone,Company
a1,Acme,sales@acme.example,5551234567,yes
a2,,ok@x.co,,
a3,Bad Email,not-an-email,,
a4,Bad Phone,,123,
a5,Bad Bool,,,maybe
a6,Acme,sales@acme.example,,
`

	leads := `source_ptr,Lead,Partner Ref,Stage,Deadline
b1,Bad Date,partner_sales_acme_example,won,garbage
b2,Bad Stage,partner_sales_acme_example,bogus,01/15/2024
b3,Bad FK,partner_ghost,won,01/15/2024
`

	mappings := []*dataset.Mapping{
		confirmed("contacts", "Name", "res.partner", "name"),
		confirmed("contacts", "Mail", "res.partner", "email"),
		confirmed("contacts", "Phone", "res.partner", "phone"),
		confirmed("contacts", "Company", "res.partner", "is_company"),
		confirmed("leads", "Lead", "crm.lead", "name"),
		confirmed("leads", "Partner Ref", "crm.lead", "partner_id/id"),
		confirmed("leads", "Stage", "crm.lead", "stage_id/id"),
		confirmed("leads", "Deadline", "crm.lead", "date_deadline"),
	}

	fx := newFixture(t, testRegistry, map[string]string{"contacts": contacts, "leads": leads}, mappings)

	result, err := fx.svc.Export(context.Background(), "ds1")
	require.NoError(t, err)

	for _, code := range storage.ErrorCodes {
		assert.Equal(t, 1, result.ExceptionsByCode[code], code)
	}

	assert.Equal(t, len(storage.ErrorCodes), result.TotalExceptions)
}

// Models without confirmed mappings are skipped entirely.
func TestExportSkipsUnmappedModels(t *testing.T) {
	fx := newFixture(t,
		testRegistry,
		map[string]string{"contacts": contactsCSV},
		partnerMappings(), // nothing confirmed for crm.lead
	)

	result, err := fx.svc.Export(context.Background(), "ds1")
	require.NoError(t, err)

	require.Len(t, result.Models, 1)
	assert.Equal(t, "res.partner", result.Models[0].Model)
}

// A frame without source_ptr gets synthesized row_<i> pointers.
func TestExportSynthesizesSourcePtr(t *testing.T) {
	contacts := "Full Name,Email Address\n,missing@x.co\n"

	fx := newFixture(t, testRegistry, map[string]string{"contacts": contacts}, partnerMappings())

	_, err := fx.svc.Export(context.Background(), "ds1")
	require.NoError(t, err)

	records, err := fx.store.List(context.Background(), "ds1", "res.partner")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "row_0", records[0].RowPtr)
}

// An invalid registry aborts before touching any data.
func TestExportRegistryInvalidIsFatal(t *testing.T) {
	fx := newFixture(t,
		"version: 1\nimport_order: [ghost.model]\nmodels: {}\nseeds: {}\n",
		map[string]string{"contacts": contactsCSV},
		partnerMappings(),
	)

	_, err := fx.svc.Export(context.Background(), "ds1")
	require.Error(t, err)

	var exportErr *Error

	require.ErrorAs(t, err, &exportErr)
	assert.Equal(t, KindRegistryInvalid, exportErr.Kind)
}

// Mapping-time transforms run before validation and degrade on failure.
func TestExportAppliesMappingTransforms(t *testing.T) {
	contacts := "source_ptr,Full Name,Email Address\nr1,  acme homes  ,INFO@ACME.EXAMPLE\n"

	mappings := []*dataset.Mapping{
		{
			Sheet: "contacts", SourceColumn: "Full Name",
			TargetModel: "res.partner", TargetField: "name",
			Status: dataset.StatusConfirmed,
			Transforms: []dataset.TransformStep{
				{Fn: "trim"},
				{Fn: "titlecase"},
			},
		},
		confirmed("contacts", "Email Address", "res.partner", "email"),
	}

	fx := newFixture(t, testRegistry, map[string]string{"contacts": contacts}, mappings)

	result, err := fx.svc.Export(context.Background(), "ds1")
	require.NoError(t, err)
	require.Len(t, result.Models, 1)

	content, err := os.ReadFile(filepath.Join(fx.artifactRoot, "ds1", "export_res_partner.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "partner_info_acme_example,Acme Homes,info@acme.example")
}

func TestFKCache(t *testing.T) {
	fk := NewFKCache()

	assert.False(t, fk.Contains("res.partner", "partner_1"))

	fk.Add("res.partner", []string{"partner_1", "partner_2"})

	assert.True(t, fk.Contains("res.partner", "partner_1"))
	assert.False(t, fk.Contains("crm.lead", "partner_1"))
	assert.Equal(t, 2, fk.Len("res.partner"))
}

func hashArtifacts(t *testing.T, artifactRoot string) map[string]string {
	t.Helper()

	hashes := make(map[string]string)

	err := filepath.Walk(artifactRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		sum := sha256.Sum256(content)
		hashes[info.Name()] = string(sum[:])

		return nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, hashes)

	return hashes
}
