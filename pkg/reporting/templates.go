/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: templates.go
Description: HTML template of the exploration report. The markup keeps to headings,
lists and tables so the Markdown conversion stays readable.
*/

package reporting

// reportTemplate renders ReportData
const reportTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}} - Kronos Explorer Report</title>
    <style>
        body {
            font-family: 'Segoe UI', Tahoma, Geneva, Verdana, sans-serif;
            background: #f4f5fa;
            color: #333;
            margin: 0;
        }

        .container {
            max-width: 1200px;
            margin: 0 auto;
            padding: 20px;
        }

        section {
            background: #fff;
            border-radius: 12px;
            padding: 20px 30px;
            margin-bottom: 20px;
            box-shadow: 0 4px 16px rgba(0, 0, 0, 0.08);
        }

        table {
            width: 100%;
            border-collapse: collapse;
            margin: 10px 0;
        }

        th, td {
            text-align: left;
            padding: 6px 10px;
            border-bottom: 1px solid #e2e8f0;
            vertical-align: top;
        }

        th {
            background: #edf2f7;
        }

        .ok { color: #2f855a; }
        .warn { color: #b7791f; }
        .bad { color: #c53030; font-weight: 600; }
        tr.bad td { background: #fff5f5; }
    </style>
</head>
<body>
<div class="container">
<section>
    <h1>{{.Title}}</h1>
    <ul>
        <li>Run: {{.Run.RunID}}</li>
        <li>Model: {{if .Run.Model}}{{.Run.Model}}{{else}}unknown{{end}}{{if .Run.Firmware}} (firmware {{.Run.Firmware}}){{end}}</li>
        <li>Timeout multiplier: {{.Run.Multiplier}}</li>
        <li>Status: <span class="{{statusClass .Run.Status}}">{{.Run.Status}}</span>{{if .Run.Error}} ({{.Run.Error}}){{end}}</li>
        <li>Started: {{timestamp .Run.StartedAt}}, duration {{duration .Run.StartedAt .Run.FinishedAt}}</li>
        <li>Generated: {{timestamp .GeneratedAt}}</li>
    </ul>
</section>

<section>
    <h2>Summary</h2>
    <table>
        <thead><tr><th>Pages</th><th>Completed</th><th>Partial</th><th>Failed</th><th>Skipped</th><th>Test cases</th><th>Observations</th></tr></thead>
        <tbody><tr>
            <td>{{.Summary.Pages}}</td><td>{{.Summary.Completed}}</td><td>{{.Summary.Partial}}</td>
            <td>{{.Summary.Failed}}</td><td>{{.Summary.Skipped}}</td><td>{{.Summary.TestCases}}</td><td>{{.Summary.Observations}}</td>
        </tr></tbody>
    </table>
    {{if .Summary.Outcomes}}
    <table>
        <thead><tr><th>Outcome</th><th>Count</th></tr></thead>
        <tbody>{{range .Summary.Outcomes}}<tr><td>{{.Outcome}}</td><td>{{.Count}}</td></tr>{{end}}</tbody>
    </table>
    {{end}}
</section>

{{range .Viewports}}
<section>
    <h2>Viewport {{.Name}}</h2>
    <p>Status: <span class="{{statusClass .Status}}">{{.Status}}</span>{{if .Error}} ({{.Error}}){{end}}. Snapshots: {{.Snapshots}}.</p>

    <h3>Authentication probe</h3>
    {{if .ProbeError}}<p class="bad">Authentication probe failed: {{.ProbeError}}</p>{{end}}
    {{if .AuthProbes}}
    <table>
        <thead><tr><th>Credential</th><th>Error visible</th><th>Banner</th><th>Still on login</th><th>Message</th></tr></thead>
        <tbody>
        {{range .AuthProbes}}
        <tr{{if .Failure}} class="bad"{{end}}>
            <td>{{.Credential}}</td><td>{{yesno .ErrorVisible}}</td><td>{{yesno .Banner}}</td><td>{{yesno .StillOnAuth}}</td>
            <td>{{if .Failure}}Probe failed: {{.Failure}}{{else}}{{.Message}}{{end}}</td>
        </tr>
        {{end}}
        </tbody>
    </table>
    {{else}}<p>No authentication probe recorded.</p>{{end}}

    {{range .Pages}}
    <h3>Page {{.Path}}: <span class="{{statusClass .Status}}">{{.Status}}</span></h3>
    <p>{{.Title}} at {{.URL}}. Snapshots: {{.Snapshots}}.{{if .Reauthenticated}} Re-authenticated {{.Reauthenticated}} time(s).{{end}}</p>
    {{range .Notes}}<p class="bad">{{.}}</p>{{end}}

    {{if eq .Status "skipped"}}
    {{else if .RulesMissing}}
    <p class="bad">Extraction failed: no rule set was produced for this page.</p>
    {{else}}
    <h4>Validation rules</h4>
    {{range .ExtractionFailures}}<p class="bad">Extraction failed in step {{.Step}}: {{.Message}}</p>{{end}}
    {{if .Constraints}}
    <table>
        <thead><tr><th>Field</th><th>Constraint</th><th>Detail</th></tr></thead>
        <tbody>{{range .Constraints}}<tr><td>{{.Field}}</td><td>{{.Kind}}</td><td>{{.Detail}}</td></tr>{{end}}</tbody>
    </table>
    {{else if .ExtractionFailures}}
    <p class="bad">Constraint list may be incomplete because extraction failed.</p>
    {{else}}
    <p>No declarative constraints found.</p>
    {{end}}
    {{if .Validators}}<p>Scripted validators:</p><ul>{{range .Validators}}<li>{{.}}</li>{{end}}</ul>{{end}}
    {{if .Templates}}<p>Error message templates:</p><ul>{{range .Templates}}<li>{{.}}</li>{{end}}</ul>{{end}}
    {{if .EventRules}}<p>Event-triggered rules:</p><ul>{{range .EventRules}}<li>{{.}}</li>{{end}}</ul>{{end}}
    {{if .DynamicRules}}<p>Dynamic rules:</p><ul>{{range .DynamicRules}}<li>{{.}}</li>{{end}}</ul>{{end}}
    {{if .MultiStep}}<p>Multi-step form detected.</p>{{end}}

    {{if .ProbingDenied}}
    <p>Adversarial input disabled for this page.</p>
    {{else}}
    <h4>Test cases ({{.TestCases}})</h4>
    {{if .Observations}}
    <table>
        <thead><tr><th>Field</th><th>Category</th><th>Value</th><th>Outcome</th><th>Message</th><th>Matched</th><th>Save</th><th>Recovered</th></tr></thead>
        <tbody>
        {{range .Observations}}
        <tr{{if .Failed}} class="bad"{{end}}>
            <td>{{.Field}}</td><td>{{.Category}}</td><td>{{.Value}}</td><td>{{.Outcome}}</td>
            <td>{{.Message}}</td><td>{{yesno .Matched}}</td><td>{{.SaveDisabled}}</td><td>{{yesno .Recovered}}</td>
        </tr>
        {{end}}
        </tbody>
    </table>
    {{else if .TestCases}}
    <p class="bad">Execution failed: no test case was observed.</p>
    {{else}}
    <p>No test cases synthesized.</p>
    {{end}}
    {{if .UnexecutedFields}}<p class="bad">Not executed for fields: {{range $i, $f := .UnexecutedFields}}{{if $i}}, {{end}}{{$f}}{{end}}</p>{{end}}
    {{end}}
    {{end}}
    {{end}}
</section>
{{end}}
</div>
</body>
</html>
`
